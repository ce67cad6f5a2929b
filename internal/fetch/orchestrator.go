package fetch

import (
	"context"
	"errors"
	"sync"

	"EnigmaNetz/Enigma-Spool/internal/logger"
	"EnigmaNetz/Enigma-Spool/internal/metrics"
)

// Status is the terminal outcome of a fetch as seen by the HTTP handler.
type Status int

const (
	// StatusOK means at least one byte was produced.
	StatusOK Status = iota
	// StatusNoPacket means the export finished without output.
	StatusNoPacket
	// StatusError means the export failed before producing output.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoPacket:
		return "no_packet"
	default:
		return "error"
	}
}

// ErrNoPackets is reported when a fetch matched nothing.
var ErrNoPackets = errors.New("no packets found")

// Stream connects a running task to an HTTP response.
type Stream struct {
	status chan Status
	body   chan []byte
	gone   chan struct{}

	resolveOnce sync.Once
	abortOnce   sync.Once
	bytes       int
}

// Status delivers exactly one terminal status.
func (s *Stream) Status() <-chan Status { return s.status }

// Body yields the capture bytes after StatusOK. It is closed when streaming
// ends.
func (s *Stream) Body() <-chan []byte { return s.body }

// Abort tells the orchestrator the client is gone.
func (s *Stream) Abort() {
	s.abortOnce.Do(func() { close(s.gone) })
}

func (s *Stream) resolve(st Status) {
	s.resolveOnce.Do(func() { s.status <- st })
}

// Orchestrator supervises export tasks on behalf of HTTP requests.
type Orchestrator struct {
	worker Worker
	log    *logger.Logger
}

// NewOrchestrator creates an orchestrator starting tasks with worker.
func NewOrchestrator(worker Worker, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{worker: worker, log: log}
}

// Start launches job. Cancelling ctx counts as a client disconnect.
func (o *Orchestrator) Start(ctx context.Context, job Job) *Stream {
	s := &Stream{
		status: make(chan Status, 1),
		body:   make(chan []byte),
		gone:   make(chan struct{}),
	}
	task := o.worker.Start(context.WithoutCancel(ctx), job)
	go o.pump(ctx, s, task, o.log.With("job", job.ID))
	return s
}

func (o *Orchestrator) pump(ctx context.Context, s *Stream, task *Task, log *logger.Logger) {
	clientGone := false
	chunks := task.Chunks
	logs := task.Logs

stream:
	for {
		select {
		case <-ctx.Done():
			clientGone = true
			break stream
		case <-s.gone:
			clientGone = true
			break stream
		case rec, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			log.Log(rec)
		case chunk, ok := <-chunks:
			if !ok {
				break stream
			}
			s.resolve(StatusOK)
			select {
			case s.body <- chunk:
				s.bytes += len(chunk)
				metrics.RecordBytesStreamed(len(chunk))
			case <-s.gone:
				clientGone = true
				break stream
			case <-ctx.Done():
				clientGone = true
				break stream
			}
		}
	}
	close(s.body)

	if clientGone {
		log.Info("Client disconnected, stopping export after %d bytes", s.bytes)
		task.Cancel()
	}
	for rec := range task.Logs {
		log.Log(rec)
	}
	<-task.Done()

	err := task.Err()
	switch {
	case err == nil:
		log.Info("Export completed successfully, bytes written: %d", s.bytes)
		s.resolve(StatusNoPacket)
	case clientGone:
		log.Debug("Export stopped: %v", err)
		s.resolve(StatusError)
	default:
		log.Error("Export failed after %d bytes: %v", s.bytes, err)
		s.resolve(StatusError)
	}
}

// Package fetch streams spool exports to HTTP clients.
package fetch

import (
	"bufio"
	"context"
	"sync"
	"time"

	"EnigmaNetz/Enigma-Spool/internal/export"
	"EnigmaNetz/Enigma-Spool/internal/logger"
	"EnigmaNetz/Enigma-Spool/internal/pcapfile"
	"EnigmaNetz/Enigma-Spool/internal/query"
)

// chunkSize is the size of the byte chunks handed to the client.
const chunkSize = 8192

// Job is one export bound to a spool.
type Job struct {
	ID        string
	Directory string
	Prefix    string
	Query     query.FetchQuery
}

// Options converts the job into export options.
func (j Job) Options() export.Options {
	return export.Options{
		Directory: j.Directory,
		Prefix:    j.Prefix,
		Filter:    j.Query.Filter,
		StartTime: j.Query.StartTime,
		Duration:  j.Query.Duration,
		Streaming: true,
	}
}

// Worker starts export tasks.
type Worker interface {
	Start(ctx context.Context, job Job) *Task
}

// Task is a running export. Chunks is closed when the export stops
// producing bytes; Logs is closed after the exit error is set and right
// before Done is closed.
type Task struct {
	Chunks <-chan []byte
	Logs   <-chan logger.Record

	chunks chan []byte
	logs   chan logger.Record
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	once   sync.Once
}

func newTask(cancel context.CancelFunc) *Task {
	chunks := make(chan []byte, 16)
	logs := make(chan logger.Record, 64)
	return &Task{
		Chunks: chunks,
		Logs:   logs,
		chunks: chunks,
		logs:   logs,
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Done is closed when the task has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the exit error. Only valid after Done is closed.
func (t *Task) Err() error { return t.err }

// Cancel stops the task. It is safe to call more than once.
func (t *Task) Cancel() { t.cancel() }

func (t *Task) closeChunks() {
	close(t.chunks)
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.logs)
		close(t.done)
		t.cancel()
	})
}

// chunkWriter hands copies of everything written to it to a channel.
type chunkWriter struct {
	ctx context.Context
	ch  chan<- []byte
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case w.ch <- chunk:
		return len(p), nil
	case <-w.ctx.Done():
		return 0, w.ctx.Err()
	}
}

// InProcessWorker runs exports as goroutines of the server process.
type InProcessWorker struct {
	Compiler pcapfile.Compiler
	LogLevel logger.LogLevel
}

// Start implements Worker.
func (w *InProcessWorker) Start(parent context.Context, job Job) *Task {
	ctx, cancel := context.WithCancel(parent)
	task := newTask(cancel)
	log := logger.NewRecordLogger(w.LogLevel, task.logs, ctx.Done()).With("job", job.ID)

	go func() {
		began := time.Now()
		buffered := bufio.NewWriterSize(&chunkWriter{ctx: ctx, ch: task.chunks}, chunkSize)
		out := pcapfile.NewOutput(pcapfile.WriterSink(buffered))
		res, err := export.New(w.Compiler, log).Export(ctx, job.Options(), out)
		if err == nil {
			err = buffered.Flush()
		}
		if err != nil {
			log.Error("Export failed: %v", err)
		} else {
			log.Info("Export finished: files=%d packets=%d bytes=%d elapsed=%s",
				res.FilesScanned, res.Packets, res.Bytes, time.Since(began).Round(time.Millisecond))
		}
		task.closeChunks()
		task.finish(err)
	}()
	return task
}

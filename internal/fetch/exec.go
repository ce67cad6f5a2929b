package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"EnigmaNetz/Enigma-Spool/internal/logger"
)

// maxLogLine bounds one stderr line of the child.
const maxLogLine = 1 << 20

// ExecWorker runs each export in a child process by invoking the export
// subcommand of Executable. Packet bytes are read from the child's stdout and
// JSON log lines from its stderr.
type ExecWorker struct {
	Executable string
	// Verbose is passed as --verbose to the child.
	Verbose int
}

// Args builds the command line for job.
func (w *ExecWorker) Args(job Job) []string {
	args := []string{
		"export",
		"--json",
		"--verbose", strconv.Itoa(w.Verbose),
		"--directory", job.Directory,
		"--start-time", strconv.FormatInt(job.Query.StartTime.Unix(), 10),
		"--duration", strconv.FormatInt(int64((job.Query.Duration+time.Second-1)/time.Second), 10),
		"--output", "-",
		"--streaming",
	}
	if job.Query.Filter != "" {
		args = append(args, "--filter", job.Query.Filter)
	}
	if job.Prefix != "" {
		args = append(args, "--prefix", job.Prefix)
	}
	return args
}

// Start implements Worker.
func (w *ExecWorker) Start(parent context.Context, job Job) *Task {
	ctx, cancel := context.WithCancel(parent)
	task := newTask(cancel)

	cmd := exec.CommandContext(ctx, w.Executable, w.Args(job)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failedTask(task, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return failedTask(task, err)
	}
	if err := cmd.Start(); err != nil {
		return failedTask(task, fmt.Errorf("failed to start export process: %w", err))
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		defer task.closeChunks()
		pumpChunks(ctx, stdout, task.chunks)
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), maxLogLine)
		// The child blocks once stderr is full, so whatever the scanner
		// gives up on is still read and dropped.
		defer io.Copy(io.Discard, stderr)
		for scanner.Scan() {
			rec := logger.ParseRecord(scanner.Text())
			if rec.Fields == nil {
				rec.Fields = map[string]interface{}{}
			}
			rec.Fields["job"] = job.ID
			select {
			case task.logs <- rec:
			case <-ctx.Done():
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case task.logs <- logger.Record{Time: time.Now(), Level: logger.Warn,
				Message: fmt.Sprintf("Dropping export log output: %v", err),
				Fields:  map[string]interface{}{"job": job.ID}}:
			case <-ctx.Done():
			}
		}
	}()

	go func() {
		readers.Wait()
		err := cmd.Wait()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				err = fmt.Errorf("export process exited with code %d: %w", exitErr.ExitCode(), err)
			}
		}
		task.finish(err)
	}()
	return task
}

func pumpChunks(ctx context.Context, r io.Reader, ch chan<- []byte) {
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case ch <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func failedTask(task *Task, err error) *Task {
	task.closeChunks()
	task.finish(err)
	return task
}

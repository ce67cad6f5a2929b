// Package retention bounds the disk usage of a spool directory by deleting
// the oldest capture files.
package retention

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"EnigmaNetz/Enigma-Spool/internal/logger"
	"EnigmaNetz/Enigma-Spool/internal/metrics"
)

// ErrPolicy means the retention policy is missing or ambiguous.
var ErrPolicy = errors.New("exactly one of --keep-files or --max-size must be specified")

// Policy selects which files survive. Exactly one field must be set.
type Policy struct {
	// KeepFiles keeps the newest N files.
	KeepFiles *int
	// MaxSize keeps the newest files whose total size fits in this many bytes.
	MaxSize *int64
}

// KeepFiles returns a count policy.
func KeepFiles(n int) Policy { return Policy{KeepFiles: &n} }

// MaxSize returns a size policy.
func MaxSize(bytes int64) Policy { return Policy{MaxSize: &bytes} }

// Validate checks that exactly one limit is set.
func (p Policy) Validate() error {
	switch {
	case p.KeepFiles != nil && p.MaxSize != nil, p.KeepFiles == nil && p.MaxSize == nil:
		return ErrPolicy
	case p.KeepFiles != nil && *p.KeepFiles < 0:
		return fmt.Errorf("%w: negative file count", ErrPolicy)
	case p.MaxSize != nil && *p.MaxSize < 0:
		return fmt.Errorf("%w: negative size", ErrPolicy)
	}
	return nil
}

// File is a capture file considered for deletion.
type File struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// isCaptureFile reports whether name has a capture file extension.
func isCaptureFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".pcap") || strings.HasSuffix(lower, ".pcapng") || strings.HasSuffix(lower, ".cap")
}

// Collect lists the capture files directly inside dir, newest first.
// Symlinks and other non-regular files are ignored.
func Collect(dir, prefix string) ([]File, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("directory does not exist: %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var files []File
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !isCaptureFile(name) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Path:    filepath.Join(dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// Plan splits newest-first files into a kept prefix and a deleted suffix.
type Plan struct {
	Files []File
	Keep  int
}

// BuildPlan applies policy to files sorted newest first.
func BuildPlan(files []File, policy Policy) Plan {
	p := Plan{Files: files, Keep: len(files)}
	switch {
	case policy.KeepFiles != nil:
		if *policy.KeepFiles < len(files) {
			p.Keep = *policy.KeepFiles
		}
	case policy.MaxSize != nil:
		var total int64
		p.Keep = 0
		for _, f := range files {
			if total+f.Size > *policy.MaxSize {
				break
			}
			total += f.Size
			p.Keep++
		}
	}
	return p
}

// Kept are the files that survive.
func (p Plan) Kept() []File { return p.Files[:p.Keep] }

// Deleted are the files to remove.
func (p Plan) Deleted() []File { return p.Files[p.Keep:] }

// DeletedBytes is the total size of the files to remove.
func (p Plan) DeletedBytes() int64 {
	var total int64
	for _, f := range p.Deleted() {
		total += f.Size
	}
	return total
}

// ParseSize parses a byte count with an optional K, M or G suffix. Suffixes
// are 1024-based and allow fractions, as in "1.5G".
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	multiplier := float64(0)
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier == 0 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		return n, nil
	}
	num, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil || num < 0 || math.IsInf(num, 0) || math.IsNaN(num) {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	bytes := num * multiplier
	if bytes >= math.MaxInt64 {
		return 0, fmt.Errorf("size out of range %q", s)
	}
	return int64(bytes), nil
}

// Config configures an Enforcer.
type Config struct {
	Directory string
	Prefix    string
	Policy    Policy
	// Force deletes files. Without it the plan is only logged.
	Force bool
	// Interval between runs in perpetual mode.
	Interval time.Duration
}

// Report summarizes one run.
type Report struct {
	Candidates   int
	Planned      int
	PlannedBytes int64
	Deleted      int
	Failed       int
	DeletedBytes int64
}

// Enforcer applies a retention policy to one directory.
type Enforcer struct {
	cfg    Config
	log    *logger.Logger
	remove func(string) error
}

// NewEnforcer validates cfg and creates an Enforcer.
func NewEnforcer(cfg Config, log *logger.Logger) (*Enforcer, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Enforcer{cfg: cfg, log: log, remove: os.Remove}, nil
}

// RunOnce plans and, when forced, deletes. A failed deletion is counted and
// the batch continues.
func (e *Enforcer) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	files, err := Collect(e.cfg.Directory, e.cfg.Prefix)
	if err != nil {
		return report, err
	}
	report.Candidates = len(files)
	if len(files) == 0 {
		e.log.Info("No PCAP files found in directory '%s'", e.cfg.Directory)
		return report, nil
	}

	plan := BuildPlan(files, e.cfg.Policy)
	deleted := plan.Deleted()
	report.Planned = len(deleted)
	report.PlannedBytes = plan.DeletedBytes()
	if len(deleted) == 0 {
		e.log.Info("No files need to be deleted")
		return report, nil
	}

	size := humanize.IBytes(uint64(report.PlannedBytes))
	if !e.cfg.Force {
		e.log.Info("Would delete %d files (%s)", len(deleted), size)
		for _, f := range deleted {
			e.log.Info("  %s", f.Path)
		}
		e.log.Warn("To actually delete these files, run with --force")
		return report, nil
	}

	e.log.Info("Deleting %d files (%s)", len(deleted), size)
	for _, f := range deleted {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := e.remove(f.Path); err != nil {
			report.Failed++
			e.log.Error("Failed to delete %s: %v", f.Path, err)
			continue
		}
		report.Deleted++
		report.DeletedBytes += f.Size
		e.log.Info("Deleted: %s", f.Path)
	}
	e.log.Info("Deleted %d files successfully (%s), %d errors",
		report.Deleted, humanize.IBytes(uint64(report.DeletedBytes)), report.Failed)
	metrics.RecordRetention(report.Deleted, report.Failed, report.DeletedBytes)
	return report, nil
}

// Run enforces the policy now and then every Interval until ctx is done.
// A failed cycle is logged and retried at the next tick; a cycle still
// running when the next one is due causes that tick to be skipped.
func (e *Enforcer) Run(ctx context.Context) error {
	if e.cfg.Interval <= 0 {
		return fmt.Errorf("invalid purge interval: %s", e.cfg.Interval)
	}
	e.log.Info("Starting purge with %s interval", e.cfg.Interval)

	cronLog := cronLogger{e.log}
	c := cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.SkipIfStillRunning(cronLog)))
	job := func() {
		if _, err := e.RunOnce(ctx); err != nil {
			e.log.Error("Purge failed: %v", err)
		}
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", e.cfg.Interval), job); err != nil {
		return fmt.Errorf("failed to schedule purge: %w", err)
	}

	job()
	c.Start()
	<-ctx.Done()
	e.log.Info("Context canceled, stopping purge")
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts the leveled logger to cron's logging interface.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: %s: %v %v", msg, err, keysAndValues)
}

// Package export extracts the packets of a time window from a spool
// directory into a single capture stream.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"EnigmaNetz/Enigma-Spool/internal/logger"
	"EnigmaNetz/Enigma-Spool/internal/metrics"
	"EnigmaNetz/Enigma-Spool/internal/pcapfile"
	"EnigmaNetz/Enigma-Spool/internal/spool"
)

// Options describe one export.
type Options struct {
	Directory string
	Prefix    string
	Filter    string
	Recursive bool
	// StartTime zero means no lower bound.
	StartTime time.Time
	// Duration zero means no upper bound.
	Duration time.Duration
	// Streaming keeps going past a file that fails mid-read. A direct
	// export aborts instead.
	Streaming bool
}

// Result summarizes an export.
type Result struct {
	FilesScanned int
	Packets      int
	Bytes        int64
}

// Exporter scans capture files and writes matching packets to an output.
type Exporter struct {
	compiler pcapfile.Compiler
	log      *logger.Logger
}

// New creates an Exporter. A nil logger discards output.
func New(compiler pcapfile.Compiler, log *logger.Logger) *Exporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Exporter{compiler: compiler, log: log}
}

// errStop ends a directory walk once a packet past the window was seen.
var errStop = errors.New("end of window reached")

type window struct {
	start    int64
	end      uint64
	bounded  bool
	hasStart bool
}

// Export writes every packet of the window that matches the filter to out.
// Files are visited in time order when the spool naming allows it.
func (e *Exporter) Export(ctx context.Context, opts Options, out *pcapfile.Output) (Result, error) {
	began := time.Now()
	var res Result
	err := e.export(ctx, opts, out, &res)
	res.Packets = out.Packets()
	res.Bytes = out.Bytes()
	metrics.RecordExport(time.Since(began), res.FilesScanned, res.Packets)
	return res, err
}

func (e *Exporter) export(ctx context.Context, opts Options, out *pcapfile.Output, res *Result) error {
	if opts.StartTime.IsZero() && opts.Duration > 0 {
		e.log.Debug("Ignoring duration without a start time")
		opts.Duration = 0
	}
	start, end := spool.WindowSeconds(opts.StartTime, opts.Duration)
	w := window{
		start:    int64(start),
		end:      end,
		bounded:  opts.Duration > 0,
		hasStart: !opts.StartTime.IsZero(),
	}

	if opts.Recursive {
		e.log.Info("Optimized file sorting not supported for recursive mode")
	} else {
		groups, ok, err := spool.SelectFiles(opts.Directory, spool.Options{
			Prefix:    opts.Prefix,
			StartTime: opts.StartTime,
			Duration:  opts.Duration,
		})
		if err != nil {
			return err
		}
		if ok {
			e.log.Debug("Selected %d files from %d producers", groups.Len(), len(groups))
			for _, seq := range groups.Sequences() {
				for _, f := range seq {
					stop, err := e.processFile(ctx, f.Path, opts, w, out, res)
					if err != nil {
						return err
					}
					if stop {
						// Later files of this producer start even later.
						break
					}
				}
			}
			return nil
		}
		e.log.Warn("Failed to load sorted file list, processing will not be optimized")
	}

	err := walk(opts.Directory, opts.Recursive, func(path string, info fs.FileInfo) error {
		if opts.Prefix != "" && !strings.HasPrefix(filepath.Base(path), opts.Prefix) {
			return nil
		}
		if w.hasStart && info.ModTime().Unix() < w.start {
			e.log.Debug("Ignoring %s, last modified before %d", path, w.start)
			return nil
		}
		stop, err := e.processFile(ctx, path, opts, w, out, res)
		if err != nil {
			return err
		}
		if stop {
			return errStop
		}
		return nil
	})
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

// walk calls fn for every regular file of dir in directory order.
func walk(dir string, recursive bool, fn func(path string, info fs.FileInfo) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		switch {
		case entry.IsDir():
			if recursive {
				if err := walk(path, recursive, fn); err != nil {
					return err
				}
			}
		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if err := fn(path, info); err != nil {
				return err
			}
		}
	}
	return nil
}

// processFile copies the matching packets of one file. stop is true once a
// packet past the end of the window was read.
func (e *Exporter) processFile(ctx context.Context, path string, opts Options, w window, out *pcapfile.Output, res *Result) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}

	r, err := pcapfile.Open(path)
	if err != nil {
		return true, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer r.Close()
	res.FilesScanned++

	log := e.log.With("file", path)
	log.Info("Processing file %s", path)

	var matcher pcapfile.Matcher = pcapfile.MatchAll{}
	if opts.Filter != "" {
		m, err := e.compiler.Compile(r.LinkType(), r.Snaplen(), opts.Filter)
		if err != nil {
			return true, fmt.Errorf("failed to compile filter for %s: %w", path, err)
		}
		matcher = m
	}

	hdr := pcapfile.HeaderOf(r)
	if out.Started() && out.Header().LinkType != hdr.LinkType {
		log.Warn("Link type %s differs from output link type %s", hdr.LinkType, out.Header().LinkType)
	}

	for {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		data, ci, err := r.ReadPacketData()
		if err != nil {
			if pcapfile.EndOfCapture(err) {
				return false, nil
			}
			if opts.Streaming {
				log.Warn("pcap-error: %s: %v", path, err)
				return false, nil
			}
			return true, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if !matcher.Matches(ci, data) {
			continue
		}
		secs := ci.Timestamp.Unix()
		if w.hasStart && secs < w.start {
			continue
		}
		if w.bounded && secs >= 0 && uint64(secs) > w.end {
			log.Debug("Reached end of window in %s", path)
			return true, nil
		}
		if err := out.WritePacket(hdr, ci, data); err != nil {
			return true, err
		}
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maruel/subcommands"

	"EnigmaNetz/Enigma-Spool/internal/export"
	"EnigmaNetz/Enigma-Spool/internal/logger"
	"EnigmaNetz/Enigma-Spool/internal/pcapfile"
	"EnigmaNetz/Enigma-Spool/internal/pcapfile/bpf"
	"EnigmaNetz/Enigma-Spool/internal/query"
)

func cmdExport() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "export --directory DIR --output FILE|- [options]",
		ShortDesc: "exports the packets of a time window to a single pcap file",
		LongDesc: `Scans the capture files of DIR and writes every packet inside the time
window that matches the filter to one pcap file. Use "-" as the output to write
to stdout. No output file is created when nothing matches.`,
		CommandRun: func() subcommands.CommandRun {
			r := &exportRun{}
			r.Flags.StringVar(&r.directory, "directory", "", "spool directory to read")
			r.Flags.StringVar(&r.filter, "filter", "", "BPF filter expression")
			r.Flags.StringVar(&r.prefix, "prefix", "", "only read files whose name starts with this")
			r.Flags.BoolVar(&r.recursive, "recursive", false, "descend into subdirectories (disables time ordering)")
			r.Flags.StringVar(&r.startTime, "start-time", "", "window start: epoch seconds or RFC3339")
			r.Flags.Int64Var(&r.duration, "duration", 0, "window length in seconds (0 means unbounded)")
			r.Flags.StringVar(&r.output, "output", "", "output file, or - for stdout")
			r.Flags.IntVar(&r.verbose, "verbose", 1, "log verbosity: 0 errors, 1 info, 2 debug")
			r.Flags.BoolVar(&r.json, "json", false, "log JSON lines to stderr")
			r.Flags.BoolVar(&r.streaming, "streaming", false, "skip damaged files instead of aborting (set by the fetch server)")
			return r
		},
	}
}

type exportRun struct {
	subcommands.CommandRunBase
	directory string
	filter    string
	prefix    string
	recursive bool
	startTime string
	duration  int64
	output    string
	verbose   int
	json      bool
	streaming bool
}

func (r *exportRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	log := cliLogger(r.verbose, r.json)
	defer log.Close()

	opts, err := r.options()
	if err != nil {
		log.Error("%v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runExport(ctx, opts, r.output, log); err != nil {
		log.Error("Export failed: %v", err)
		return 1
	}
	return 0
}

func (r *exportRun) options() (export.Options, error) {
	if r.directory == "" {
		return export.Options{}, errors.New("--directory is required")
	}
	if r.output == "" {
		return export.Options{}, errors.New("--output is required")
	}
	if r.duration < 0 {
		return export.Options{}, fmt.Errorf("invalid --duration %d", r.duration)
	}
	opts := export.Options{
		Directory: r.directory,
		Prefix:    r.prefix,
		Filter:    r.filter,
		Recursive: r.recursive,
		Duration:  time.Duration(r.duration) * time.Second,
		Streaming: r.streaming,
	}
	if r.startTime != "" {
		start, err := query.ParseTimestamp(r.startTime)
		if err != nil {
			return export.Options{}, fmt.Errorf("invalid --start-time %q: %w", r.startTime, err)
		}
		opts.StartTime = start
	}
	return opts, nil
}

func runExport(ctx context.Context, opts export.Options, output string, log *logger.Logger) error {
	began := time.Now()
	var (
		sink     pcapfile.Sink
		buffered *bufio.Writer
	)
	if output == "-" {
		buffered = bufio.NewWriterSize(os.Stdout, 8192)
		sink = pcapfile.WriterSink(buffered)
	} else {
		sink = pcapfile.FileSink(output)
	}

	out := pcapfile.NewOutput(sink)
	res, err := export.New(bpf.Compiler{}, log).Export(ctx, opts, out)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if buffered != nil {
		if flushErr := buffered.Flush(); err == nil {
			err = flushErr
		}
	}
	if err != nil {
		return err
	}

	if !out.Started() {
		log.Info("No packets matched; nothing written")
	}
	log.Info("Export finished: files=%d packets=%d bytes=%d elapsed=%s",
		res.FilesScanned, res.Packets, res.Bytes, time.Since(began).Round(time.Millisecond))
	return nil
}

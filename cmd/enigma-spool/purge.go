package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maruel/subcommands"

	"EnigmaNetz/Enigma-Spool/internal/retention"
)

func cmdPurge() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "purge DIR (--keep-files N | --max-size SIZE) [--force] [--interval MIN]",
		ShortDesc: "deletes the oldest capture files of a directory",
		LongDesc: `Keeps either the newest N capture files or the newest files that fit in
SIZE (K, M and G suffixes are 1024-based) and deletes the rest. Without --force
the files that would be deleted are only listed. With --interval the purge
repeats every MIN minutes until interrupted.`,
		CommandRun: func() subcommands.CommandRun {
			r := &purgeRun{}
			r.Flags.IntVar(&r.keepFiles, "keep-files", -1, "number of newest files to keep")
			r.Flags.StringVar(&r.maxSize, "max-size", "", "total size of the newest files to keep, e.g. 500M or 2G")
			r.Flags.StringVar(&r.prefix, "prefix", "", "only consider files whose name starts with this")
			r.Flags.BoolVar(&r.force, "force", false, "actually delete files")
			r.Flags.IntVar(&r.interval, "interval", 0, "repeat every N minutes")
			r.Flags.IntVar(&r.verbose, "verbose", 1, "log verbosity: 0 errors, 1 info, 2 debug")
			return r
		},
	}
}

type purgeRun struct {
	subcommands.CommandRunBase
	keepFiles int
	maxSize   string
	prefix    string
	force     bool
	interval  int
	verbose   int
}

func (r *purgeRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	log := cliLogger(r.verbose, false)
	defer log.Close()

	if len(args) != 1 {
		log.Error("purge takes exactly one directory")
		return 2
	}
	cfg, err := r.config(args[0])
	if err != nil {
		log.Error("%v", err)
		return 2
	}
	enforcer, err := retention.NewEnforcer(cfg, log)
	if err != nil {
		log.Error("%v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Interval > 0 {
		if err := enforcer.Run(ctx); err != nil {
			log.Error("%v", err)
			return 1
		}
		return 0
	}
	if _, err := enforcer.RunOnce(ctx); err != nil {
		log.Error("Purge failed: %v", err)
		return 1
	}
	return 0
}

func (r *purgeRun) config(dir string) (retention.Config, error) {
	cfg := retention.Config{
		Directory: dir,
		Prefix:    r.prefix,
		Force:     r.force,
		Interval:  time.Duration(r.interval) * time.Minute,
	}
	if r.interval < 0 {
		return cfg, errors.New("--interval must not be negative")
	}
	if r.keepFiles >= 0 {
		n := r.keepFiles
		cfg.Policy.KeepFiles = &n
	}
	if r.maxSize != "" {
		size, err := retention.ParseSize(r.maxSize)
		if err != nil {
			return cfg, err
		}
		cfg.Policy.MaxSize = &size
	}
	return cfg, nil
}

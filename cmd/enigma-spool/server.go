package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maruel/subcommands"

	"EnigmaNetz/Enigma-Spool/config"
	"EnigmaNetz/Enigma-Spool/internal/fetch"
	"EnigmaNetz/Enigma-Spool/internal/logger"
	"EnigmaNetz/Enigma-Spool/internal/pcapfile/bpf"
)

func cmdServer() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "server [--config FILE] [--directory DIR --name NAME] [--port N]",
		ShortDesc: "serves the fetch API over HTTP",
		LongDesc: `Starts the fetch server for the spools in the config file. A spool can
also be given on the command line with --directory.`,
		CommandRun: func() subcommands.CommandRun {
			r := &serverRun{}
			r.Flags.StringVar(&r.configPath, "config", config.DefaultPath, "configuration file")
			r.Flags.StringVar(&r.directory, "directory", "", "serve this directory in addition to the configured spools")
			r.Flags.StringVar(&r.name, "name", "default", "spool name for --directory")
			r.Flags.StringVar(&r.prefix, "prefix", "", "filename prefix for --directory")
			r.Flags.IntVar(&r.port, "port", 0, "listen port (overrides the config file)")
			return r
		},
	}
}

type serverRun struct {
	subcommands.CommandRunBase
	configPath string
	directory  string
	name       string
	prefix     string
	port       int
}

func (r *serverRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	cfg, err := r.loadConfig()
	if err != nil {
		fmt.Fprintf(a.GetErr(), "%v\n", err)
		return 1
	}

	log, err := cfg.InitializeLogging()
	if err != nil {
		fmt.Fprintf(a.GetErr(), "%v\n", err)
		return 1
	}
	defer log.Close()

	if len(cfg.Spools) == 0 {
		log.Warn("No configured spools")
	}
	for _, s := range cfg.Spools {
		log.Info("Serving spool %s from %s", s.Name, s.Directory)
	}

	worker, err := newWorker(cfg, log)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	certFile, keyFile := "", ""
	if cfg.TLS.Enabled {
		certFile, keyFile = cfg.TLS.Certificate, cfg.TLS.Key
	}
	srv := fetch.NewServer(cfg, worker, cfg.Users, log)
	if err := srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Port), certFile, keyFile); err != nil {
		log.Error("%v", err)
		return 1
	}
	return 0
}

// loadConfig reads the config file and layers the environment and flags on top.
func (r *serverRun) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(r.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if r.port != 0 {
		cfg.Port = r.port
	}
	if r.directory != "" {
		if err := cfg.AddSpool(r.name, r.directory, r.prefix); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newWorker(cfg *config.Config, log *logger.Logger) (fetch.Worker, error) {
	level, err := logger.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	switch cfg.Fetch.Worker {
	case config.WorkerExec:
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		log.Info("Running exports in child processes of %s", exe)
		return &fetch.ExecWorker{Executable: exe, Verbose: verbosity(level)}, nil
	default:
		return &fetch.InProcessWorker{Compiler: bpf.Compiler{}, LogLevel: level}, nil
	}
}

// verbosity maps a log level to the --verbose value of the export subcommand.
func verbosity(level logger.LogLevel) int {
	switch {
	case level <= logger.Debug:
		return 2
	case level <= logger.Warn:
		return 1
	default:
		return 0
	}
}

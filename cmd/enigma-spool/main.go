// Command enigma-spool exports, serves and prunes rolling packet-capture spools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/maruel/subcommands"

	"EnigmaNetz/Enigma-Spool/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var application = &subcommands.DefaultApplication{
	Name:  "enigma-spool",
	Title: "Enigma Spool - time-window packet export for rolling capture directories",
	Commands: []*subcommands.Command{
		cmdExport(),
		cmdServer(),
		cmdPurge(),
		cmdConfig(),
		cmdVersion(),
		subcommands.CmdHelp,
	},
	EnvVars: map[string]subcommands.EnvVarDefinition{
		"ENIGMA_SPOOL_PORT":         {ShortDesc: "Overrides the server port from the config file."},
		"ENIGMA_SPOOL_LOG_LEVEL":    {ShortDesc: "Overrides the server log level (debug, info, warn, error)."},
		"ENIGMA_SPOOL_LOG_FILE":     {ShortDesc: "Overrides the server log file."},
		"ENIGMA_SPOOL_FETCH_WORKER": {ShortDesc: "Overrides how fetches run: inprocess or exec."},
	},
}

func main() {
	// A .env file next to the binary is optional.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}
	os.Exit(subcommands.Run(application, nil))
}

func cmdVersion() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "version",
		ShortDesc: "prints the version",
		CommandRun: func() subcommands.CommandRun {
			return &versionRun{}
		},
	}
}

type versionRun struct {
	subcommands.CommandRunBase
}

func (r *versionRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	fmt.Fprintln(a.GetOut(), version)
	return 0
}

// cliLogger builds the stderr logger used by the one-shot subcommands.
func cliLogger(verbose int, json bool) *logger.Logger {
	log, err := logger.NewLogger(logger.Config{
		LogLevel: logger.VerbosityLevel(verbose),
		JSON:     json,
		Output:   os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return logger.Nop()
	}
	return log
}

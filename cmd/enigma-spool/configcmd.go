package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/maruel/subcommands"

	"EnigmaNetz/Enigma-Spool/config"
	"EnigmaNetz/Enigma-Spool/internal/logger"
)

func cmdConfig() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "config [--config FILE] set KEY VALUE | spool list|add|remove ... | passwd USER PASSWORD",
		ShortDesc: "edits the configuration file",
		LongDesc: fmt.Sprintf(`Edits the server configuration file.

  set KEY VALUE               keys: %s
  spool list                  lists the configured spools
  spool add NAME DIR [PREFIX] adds a spool
  spool remove NAME           removes a spool
  passwd USER PASSWORD        creates a user or changes its password`,
			strings.Join(config.SetKeys, ", ")),
		CommandRun: func() subcommands.CommandRun {
			r := &configRun{}
			r.Flags.StringVar(&r.configPath, "config", config.DefaultPath, "configuration file")
			return r
		},
	}
}

type configRun struct {
	subcommands.CommandRunBase
	configPath string
}

func (r *configRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	log := cliLogger(1, false)
	defer log.Close()

	cfg, err := config.LoadConfig(r.configPath)
	if err != nil {
		log.Error("%v", err)
		return 1
	}
	changed, err := editConfig(cfg, args, a.GetOut(), log)
	if err != nil {
		log.Error("%v", err)
		return 2
	}
	if changed {
		if err := cfg.Save(); err != nil {
			log.Error("%v", err)
			return 1
		}
	}
	return 0
}

// editConfig applies one config command to cfg and reports whether cfg
// needs saving.
func editConfig(cfg *config.Config, args []string, out io.Writer, log *logger.Logger) (bool, error) {
	if len(args) == 0 {
		return false, fmt.Errorf("missing config command")
	}
	switch args[0] {
	case "set":
		if len(args) != 3 {
			return false, fmt.Errorf("usage: config set KEY VALUE")
		}
		if err := cfg.Set(args[1], args[2]); err != nil {
			return false, err
		}
		return true, nil

	case "spool":
		return editSpools(cfg, args[1:], out, log)

	case "passwd":
		if len(args) != 3 {
			return false, fmt.Errorf("usage: config passwd USER PASSWORD")
		}
		created, err := cfg.SetPassword(args[1], args[2])
		if err != nil {
			return false, err
		}
		if created {
			fmt.Fprintf(out, "User %s has been created\n", args[1])
		} else {
			fmt.Fprintf(out, "The password has been updated for user %s\n", args[1])
		}
		return true, nil
	}
	return false, fmt.Errorf("unknown config command %q", args[0])
}

func editSpools(cfg *config.Config, args []string, out io.Writer, log *logger.Logger) (bool, error) {
	if len(args) == 0 {
		return false, fmt.Errorf("usage: config spool list|add|remove")
	}
	switch args[0] {
	case "list":
		if len(cfg.Spools) == 0 {
			log.Warn("No configured spools")
			return false, nil
		}
		for _, s := range cfg.Spools {
			prefix := s.Prefix
			if prefix == "" {
				prefix = "<none>"
			}
			fmt.Fprintf(out, "- Name=%s, Directory=%s, Prefix=%s\n", s.Name, s.Directory, prefix)
		}
		return false, nil

	case "add":
		if len(args) != 3 && len(args) != 4 {
			return false, fmt.Errorf("usage: config spool add NAME DIR [PREFIX]")
		}
		prefix := ""
		if len(args) == 4 {
			prefix = args[3]
		}
		if err := cfg.AddSpool(args[1], args[2], prefix); err != nil {
			return false, err
		}
		return true, nil

	case "remove":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: config spool remove NAME")
		}
		if !cfg.RemoveSpool(args[1]) {
			log.Warn("A spool with the name '%s' was not found", args[1])
			return false, nil
		}
		return true, nil
	}
	return false, fmt.Errorf("unknown spool command %q", args[0])
}

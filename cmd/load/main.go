// Command load drives concurrent fetches against an enigma-spool server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EnigmaNetz/Enigma-Spool/internal/logger"
	"EnigmaNetz/Enigma-Spool/internal/query"
	"EnigmaNetz/Enigma-Spool/load"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:7000", "spool server base URL")
	spool := flag.String("spool", "default", "spool name")
	start := flag.String("start-time", "", "window start: epoch seconds or RFC3339 (default: now minus window)")
	window := flag.Duration("window", time.Minute, "exported time range per request")
	filter := flag.String("filter", "ip", "BPF filter expression")
	duration := flag.Duration("duration", 10*time.Second, "how long to generate load")
	concurrency := flag.Int("concurrency", 4, "parallel clients")
	interval := flag.Duration("interval", 0, "pause between requests of one client")
	user := flag.String("user", "", "basic auth user")
	password := flag.String("password", "", "basic auth password")
	flag.Parse()

	log, err := logger.NewLogger(logger.Config{LogLevel: logger.Info})
	if err != nil {
		os.Exit(1)
	}
	defer log.Close()

	startTime := time.Now().Add(-*window)
	if *start != "" {
		startTime, err = query.ParseTimestamp(*start)
		if err != nil {
			log.Error("Invalid --start-time: %v", err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := load.Config{
		URL:         *server,
		Spool:       *spool,
		StartTime:   startTime,
		Window:      *window,
		Filter:      *filter,
		Duration:    *duration,
		Concurrency: *concurrency,
		Interval:    *interval,
		User:        *user,
		Password:    *password,
	}
	log.Info("Fetching %s from %s with %d clients for %s", *spool, *server, *concurrency, *duration)
	report, err := load.RunFetchLoad(ctx, cfg)
	log.Info("%s", report)
	if err != nil {
		log.Error("Load run interrupted: %v", err)
		os.Exit(1)
	}
}

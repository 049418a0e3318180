// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command hlsplay plays a media file or HLS stream headlessly and exposes
// the player over an HTTP control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	xglog "github.com/ManuGH/hlsplay/internal/log"
	"github.com/ManuGH/hlsplay/internal/report"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	source := flag.String("source", "", "media URL to play (file or .m3u8)")
	listen := flag.String("listen", "", `control API address, overrides api.listen_addr ("off" disables the API)`)
	exitOnComplete := flag.Bool("exit-on-complete", false, "exit once playback completes or fails terminally")
	reportPath := flag.String("report", "", "write a diagnostics report to this path on exit, overrides report_path")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until config is loaded.
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "hlsplay",
		Version: version,
	})
	logger := xglog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := run(ctx, options{
		ConfigPath:     strings.TrimSpace(*configPath),
		Source:         strings.TrimSpace(*source),
		Listen:         strings.TrimSpace(*listen),
		ExitOnComplete: *exitOnComplete,
		ReportPath:     strings.TrimSpace(*reportPath),
		Version:        version,
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "run.failed").Msg("hlsplay failed")
		os.Exit(1)
	}
	logger.Info().Str("event", "run.finished").Str("outcome", string(outcome)).Msg("hlsplay finished")
	if outcome == report.OutcomeError {
		os.Exit(2)
	}
}

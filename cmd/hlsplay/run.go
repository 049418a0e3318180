// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ManuGH/hlsplay/internal/api"
	"github.com/ManuGH/hlsplay/internal/config"
	"github.com/ManuGH/hlsplay/internal/engine/gohls"
	"github.com/ManuGH/hlsplay/internal/host/headless"
	xglog "github.com/ManuGH/hlsplay/internal/log"
	"github.com/ManuGH/hlsplay/internal/player"
	"github.com/ManuGH/hlsplay/internal/player/recovery"
	"github.com/ManuGH/hlsplay/internal/report"
	"github.com/ManuGH/hlsplay/internal/telemetry"
	"github.com/ManuGH/hlsplay/internal/validate"
	"golang.org/x/sync/errgroup"
)

type options struct {
	ConfigPath     string
	Source         string
	Listen         string
	ExitOnComplete bool
	ReportPath     string
	Version        string

	// onListen, when set, receives the bound API address.
	onListen func(addr string)
}

// playerConfig maps the file/env configuration onto player tunables.
func playerConfig(cfg config.AppConfig) player.Config {
	return player.Config{
		Policy: recovery.Policy{
			MaxRetries: cfg.Player.RetryLimit,
			RetryDelay: cfg.Player.RetryDelay,
		},
		CompletionThreshold: cfg.Player.CompletionThreshold,
		DefaultUnmuteVolume: cfg.Player.DefaultUnmuteVolume,
		InitialVolume:       cfg.Player.InitialVolume,
	}
}

// runState tracks how the run is going from inside player callbacks.
type runState struct {
	mu        sync.Mutex
	completed bool
	finished  chan struct{}
	once      sync.Once
}

func (s *runState) finish() {
	s.once.Do(func() { close(s.finished) })
}

// checkSource rejects a -source the headless host could never fetch.
func checkSource(raw string) error {
	if raw == "" {
		return nil
	}
	v := validate.New()
	v.URL("source", raw, []string{"http", "https"})
	return v.Err()
}

func run(ctx context.Context, opts options) (report.Outcome, error) {
	logger := xglog.WithComponent("main")

	if err := checkSource(opts.Source); err != nil {
		return "", fmt.Errorf("invalid source: %w", err)
	}

	loader := config.NewLoader(opts.ConfigPath, opts.Version)
	cfg, err := loader.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if opts.Listen != "" {
		cfg.API.ListenAddr = opts.Listen
	}
	if opts.ReportPath != "" {
		cfg.ReportPath = opts.ReportPath
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	source := "env+defaults"
	if opts.ConfigPath != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, opts.ConfigPath).
		Msg("loaded configuration")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return "", fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	host := headless.New(headless.Config{
		NativeMIMETypes:    cfg.Host.NativeMIMETypes,
		TimeUpdateInterval: cfg.Host.TimeUpdateInterval,
		Logger:             xglog.WithComponent("host"),
	})
	engines := gohls.NewFactory(gohls.Config{
		Enabled:     cfg.Engine.Enabled,
		HTTPTimeout: cfg.Engine.HTTPTimeout,
		Logger:      xglog.WithComponent("engine"),
	})

	rs := &runState{finished: make(chan struct{})}
	var p *player.Player
	p = player.New(host, engines,
		player.WithConfig(playerConfig(cfg)),
		player.WithLogger(xglog.WithComponent("player")),
		player.WithContext(runCtx),
		player.WithCallbacks(player.Callbacks{
			OnComplete: func() {
				rs.mu.Lock()
				rs.completed = true
				rs.mu.Unlock()
				rs.finish()
			},
			OnStateChange: func(st player.State) {
				switch {
				case st.Phase == player.PhaseReady && !st.IsPlaying:
					// Autoplay each time a session becomes ready.
					p.Play()
				case st.Phase == player.PhaseError:
					rs.finish()
				}
			},
		}),
	)

	holder := config.NewHolder(cfg, loader)
	if err := holder.StartWatcher(runCtx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable, hot reload disabled")
	}
	defer holder.Stop()
	reloads := make(chan config.AppConfig, 1)
	holder.RegisterListener(reloads)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case next := <-reloads:
				p.ApplyConfig(playerConfig(next))
				logger.Info().Str("event", "player.config_applied").Msg("player tunables updated")
			}
		}
	})

	if cfg.API.ListenAddr != config.ListenOff {
		ln, err := net.Listen("tcp", cfg.API.ListenAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			p.Close()
			host.Close()
			engines.Wait()
			return "", fmt.Errorf("listen %s: %w", cfg.API.ListenAddr, err)
		}
		if opts.onListen != nil {
			opts.onListen(ln.Addr().String())
		}
		srv := api.New(p, api.Config{
			Version:        cfg.Version,
			RateLimit:      cfg.API.RateLimit,
			TracingService: tracingService(cfg),
			ConfigPath:     opts.ConfigPath,
			MaxConns:       cfg.API.MaxConns,
		})
		g.Go(func() error { return srv.Serve(gctx, ln) })
	}

	if opts.ExitOnComplete {
		g.Go(func() error {
			select {
			case <-rs.finished:
				cancel()
			case <-gctx.Done():
			}
			return nil
		})
	}

	if opts.Source != "" {
		p.SetSource(opts.Source)
	}

	<-gctx.Done()
	waitErr := g.Wait()

	final := p.Snapshot()
	diag := p.Diagnostics()
	p.Close()
	host.Close()
	engines.Wait()

	rs.mu.Lock()
	outcome := report.OutcomeFor(final, rs.completed)
	rs.mu.Unlock()

	if cfg.ReportPath != "" {
		if err := report.Write(ctx, cfg.ReportPath, report.Report{
			GeneratedAt: time.Now().UTC(),
			Version:     cfg.Version,
			Outcome:     outcome,
			State:       final,
			Diagnostics: diag,
		}); err != nil {
			return outcome, fmt.Errorf("write report: %w", err)
		}
	}

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return outcome, waitErr
	}
	return outcome, nil
}

func tracingService(cfg config.AppConfig) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.LogService
}

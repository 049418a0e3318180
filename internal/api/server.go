// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the player control surface over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/hlsplay/internal/health"
	"github.com/ManuGH/hlsplay/internal/log"
	"github.com/ManuGH/hlsplay/internal/player"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

// Defaults
const (
	DefaultRateWindow      = time.Minute
	DefaultShutdownTimeout = 5 * time.Second
	maxCommandBody         = 64 << 10
)

// Controller is the part of the player the API drives.
type Controller interface {
	SetSource(url string)
	Play()
	Pause()
	Seek(seconds float64)
	SetVolume(v float64)
	ToggleMute()
	Restart()
	Retry()

	Snapshot() player.State
	Diagnostics() player.Diagnostics
}

// Config configures the HTTP surface.
type Config struct {
	Version string
	// RateLimit is the number of command requests a client may send per
	// RateWindow. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	// TracingService names the otelhttp spans. Empty disables tracing.
	TracingService string
	// MaxConns caps concurrent connections. Zero means unlimited.
	MaxConns int
	// ConfigPath, when set, is checked by the readiness probe.
	ConfigPath string
	Logger     *zerolog.Logger
}

// Server serves the control API.
type Server struct {
	ctl     Controller
	cfg     Config
	logger  zerolog.Logger
	health  *health.Manager
	handler http.Handler
}

// New builds the router. The controller must be safe for concurrent use.
func New(ctl Controller, cfg Config) *Server {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}
	s := &Server{ctl: ctl, cfg: cfg, logger: log.WithComponent("api")}
	if cfg.Logger != nil {
		s.logger = *cfg.Logger
	}
	s.health = health.NewManager(cfg.Version)
	s.health.RegisterChecker(health.CheckerFunc("player", s.checkPlayer))
	if cfg.ConfigPath != "" {
		s.health.RegisterChecker(health.NewFileChecker("config_file", cfg.ConfigPath))
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(accessLog)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/v1/openapi.yaml", handleOpenAPI)

	r.Route("/api/v1/player", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.With(rateLimit(s.cfg.RateLimit, s.cfg.RateWindow)).Post("/commands", s.handleCommand)
	})

	if s.cfg.TracingService != "" {
		return tracing(s.cfg.TracingService)(r)
	}
	return r
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.logger.Info().
		Str("event", "api.listening").
		Str("addr", ln.Addr().String()).
		Msg("control API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.logger.Info().Str("event", "api.stopped").Msg("control API stopped")
	return nil
}

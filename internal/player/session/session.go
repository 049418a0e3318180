// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session owns the resources of one playback strategy bound to one
// source: host listeners, the streaming engine, and the host source itself.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	xglog "github.com/ManuGH/hlsplay/internal/log"
	"github.com/ManuGH/hlsplay/internal/metrics"
	"github.com/ManuGH/hlsplay/internal/player/engine"
	"github.com/ManuGH/hlsplay/internal/player/media"
	"github.com/ManuGH/hlsplay/internal/player/source"
	"github.com/ManuGH/hlsplay/internal/player/strategy"
	"github.com/ManuGH/hlsplay/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNoSource        = errors.New("session: no source")
	ErrUnknownStrategy = errors.New("session: unknown strategy")
	ErrNoEngine        = errors.New("session: no engine factory configured")
)

// Hooks receive everything a session observes. Any hook may be nil.
// Hooks may be called from foreign goroutines; events arriving after Stop are dropped.
type Hooks struct {
	OnMedia          func(media.Event)
	OnManifestParsed func(engine.ManifestInfo)
	OnEngineError    func(engine.ErrorEvent)
}

// Handle is a started session.
type Handle struct {
	ID         string
	Strategy   strategy.Strategy
	Source     source.MediaSource
	Generation uint64
	StartedAt  time.Time

	mu      sync.Mutex
	subs    []media.ListenerID
	engine  engine.Engine
	span    trace.Span
	stopped atomic.Bool
}

// Stopped reports whether Stop has run for this handle.
func (h *Handle) Stopped() bool {
	return h == nil || h.stopped.Load()
}

// Subscriptions returns how many host listeners the handle still owns.
func (h *Handle) Subscriptions() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Manager starts and stops sessions against one media host.
type Manager struct {
	host    media.Host
	engines engine.Factory
	tracer  trace.Tracer
	logger  zerolog.Logger
	now     func() time.Time

	live atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager. engines may be nil when no streaming
// engine exists in this runtime.
func NewManager(host media.Host, engines engine.Factory, opts ...Option) *Manager {
	m := &Manager{
		host:    host,
		engines: engines,
		tracer:  telemetry.Tracer("hlsplay/session"),
		logger:  xglog.WithComponent("session"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Live returns the number of started, not yet stopped sessions.
func (m *Manager) Live() int {
	return int(m.live.Load())
}

// Start acquires the resources of strat for src. The caller must have stopped
// any previous handle of the same player first. On error nothing stays live.
func (m *Manager) Start(ctx context.Context, strat strategy.Strategy, src source.MediaSource, gen uint64, hooks Hooks) (*Handle, error) {
	if src.Empty() {
		return nil, ErrNoSource
	}

	h := &Handle{
		ID:         uuid.NewString(),
		Strategy:   strat,
		Source:     src,
		Generation: gen,
		StartedAt:  m.now(),
	}
	sctx := xglog.ContextWithSessionID(ctx, h.ID)
	_, h.span = m.tracer.Start(sctx, "player.session",
		trace.WithAttributes(telemetry.SessionAttributes(h.ID, string(src.Kind), string(strat), gen)...))

	m.live.Add(1)
	metrics.SessionStarted()
	metrics.IncPlaybackStart(string(strat))

	logger := xglog.WithContext(sctx, m.logger).With().
		Str(xglog.FieldStrategy, string(strat)).
		Uint64(xglog.FieldGeneration, gen).
		Logger()

	// Listeners first so nothing the host emits while loading is lost.
	h.mu.Lock()
	for _, kind := range media.AllEvents {
		id := m.host.On(kind, func(ev media.Event) {
			if h.stopped.Load() || hooks.OnMedia == nil {
				return
			}
			hooks.OnMedia(ev)
		})
		h.subs = append(h.subs, id)
	}
	h.mu.Unlock()

	var err error
	switch strat {
	case strategy.LibraryHLS:
		err = m.startEngine(h, hooks)
	case strategy.NativeHLS, strategy.Native:
		if serr := m.host.SetSource(src.URL); serr != nil {
			err = fmt.Errorf("set source: %w", serr)
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownStrategy, strat)
	}
	if err != nil {
		h.span.RecordError(err)
		h.span.SetStatus(codes.Error, err.Error())
		m.Stop(h)
		logger.Warn().Err(err).Str(xglog.FieldEvent, "session.start_failed").Msg("session start failed")
		return nil, err
	}

	logger.Debug().
		Str(xglog.FieldEvent, "session.started").
		Str(xglog.FieldSourceKind, string(src.Kind)).
		Msg("session started")
	return h, nil
}

func (m *Manager) startEngine(h *Handle, hooks Hooks) error {
	if m.engines == nil {
		return ErrNoEngine
	}

	eng, err := m.engines.New(engine.Callbacks{
		OnManifestParsed: func(info engine.ManifestInfo) {
			if h.stopped.Load() || hooks.OnManifestParsed == nil {
				return
			}
			hooks.OnManifestParsed(info)
		},
		OnError: func(ev engine.ErrorEvent) {
			if h.stopped.Load() {
				return
			}
			if !ev.Fatal {
				h.recoverLocally(ev)
			}
			if hooks.OnEngineError != nil {
				hooks.OnEngineError(ev)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	h.mu.Lock()
	h.engine = eng
	h.mu.Unlock()

	if err := eng.Attach(m.host); err != nil {
		return fmt.Errorf("attach engine: %w", err)
	}
	if err := eng.Load(h.Source.URL); err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	return nil
}

// recoverLocally lets the engine absorb non-fatal errors on its own.
func (h *Handle) recoverLocally(ev engine.ErrorEvent) {
	h.mu.Lock()
	eng := h.engine
	h.mu.Unlock()
	if eng == nil {
		return
	}
	switch ev.Type {
	case engine.ErrorTypeNetwork:
		eng.StartLoad()
	case engine.ErrorTypeMedia:
		eng.RecoverMediaError()
	}
}

// Stop releases the handle: listeners are revoked before the engine is
// destroyed and the host detached. Stopping nil or an already stopped handle
// is a no-op.
func (m *Manager) Stop(h *Handle) {
	if h == nil || !h.stopped.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	eng := h.engine
	h.engine = nil
	h.mu.Unlock()

	for _, id := range subs {
		m.host.Off(id)
	}
	if eng != nil {
		eng.Destroy()
	}
	m.host.Detach()

	if h.span != nil {
		h.span.End()
	}
	m.live.Add(-1)
	metrics.SessionStopped()

	m.logger.Debug().
		Str(xglog.FieldEvent, "session.stopped").
		Str(xglog.FieldSessionID, h.ID).
		Str(xglog.FieldStrategy, string(h.Strategy)).
		Dur("lifetime", m.now().Sub(h.StartedAt)).
		Msg("session stopped")
}

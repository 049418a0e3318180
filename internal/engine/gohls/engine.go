// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gohls implements the player's streaming engine on top of
// github.com/bluenviron/gohlslib/v2.
//
// Load parses the manifest (raising ManifestParsed) and then runs a
// gohlslib.Client that downloads and demuxes segments. The host is fed a
// stream once the client has discovered its tracks.
package gohls

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/hlsplay/internal/log"
	"github.com/ManuGH/hlsplay/internal/manifest"
	"github.com/ManuGH/hlsplay/internal/player/engine"
	"github.com/ManuGH/hlsplay/internal/player/media"
	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/rs/zerolog"
)

const DefaultHTTPTimeout = 10 * time.Second

var (
	ErrDestroyed   = errors.New("gohls: engine destroyed")
	ErrNotAttached = errors.New("gohls: engine not attached to a host")
	ErrLoaded      = errors.New("gohls: source already loaded")
)

// Config configures the factory.
type Config struct {
	Enabled     bool
	HTTPClient  *http.Client
	HTTPTimeout time.Duration
	MaxManifest int64
	Logger      zerolog.Logger
}

// Factory creates gohlslib-backed engines.
type Factory struct {
	cfg    Config
	client *http.Client
	wg     sync.WaitGroup
}

// NewFactory returns a factory. A nil HTTPClient gets a client with HTTPTimeout.
func NewFactory(cfg Config) *Factory {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Factory{cfg: cfg, client: client}
}

func (f *Factory) Available() bool {
	return f != nil && f.cfg.Enabled
}

func (f *Factory) New(cb engine.Callbacks) (engine.Engine, error) {
	if !f.Available() {
		return nil, engine.ErrUnavailable
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		f:      f,
		cb:     cb,
		ctx:    ctx,
		cancel: cancel,
		logger: f.cfg.Logger.With().Str(xglog.FieldComponent, "gohls").Logger(),
	}, nil
}

// Wait blocks until every engine created by f has released its goroutines
// and connections. Destroy itself never blocks.
func (f *Factory) Wait() {
	f.wg.Wait()
}

// Engine is one manifest load bound to one host.
type Engine struct {
	f      *Factory
	cb     engine.Callbacks
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu        sync.Mutex
	host      media.Host
	uri       string
	info      manifest.Info
	client    *gohlslib.Client
	destroyed bool
}

func (e *Engine) Attach(host media.Host) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	e.host = host
	return nil
}

// Load starts loading uri in the background. Failures arrive through OnError.
func (e *Engine) Load(uri string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.destroyed:
		return ErrDestroyed
	case e.host == nil:
		return ErrNotAttached
	case e.uri != "":
		return ErrLoaded
	}
	e.uri = uri

	e.f.wg.Add(1)
	go func() {
		defer e.f.wg.Done()
		e.run()
	}()
	return nil
}

// StartLoad restarts loading after a network error. gohlslib reconnects on
// its own, so a fresh client is only started when the previous one is gone.
func (e *Engine) StartLoad() {
	e.mu.Lock()
	alive := e.client != nil || e.destroyed || e.uri == ""
	e.mu.Unlock()
	if alive {
		return
	}
	e.f.wg.Add(1)
	go func() {
		defer e.f.wg.Done()
		e.stream()
	}()
}

// RecoverMediaError is a no-op: gohlslib resynchronizes on the next segment.
func (e *Engine) RecoverMediaError() {
	e.logger.Debug().Str(xglog.FieldEvent, "engine.media_recover").Msg("media error left to the demuxer")
}

// Destroy cancels loading. Client shutdown happens in the background; use
// Factory.Wait to wait for it.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	c := e.client
	e.client = nil
	e.mu.Unlock()

	e.cancel()
	if c != nil {
		e.f.wg.Add(1)
		go func() {
			defer e.f.wg.Done()
			c.Close()
		}()
	}
}

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

func (e *Engine) run() {
	prober := manifest.Prober{Client: e.f.client, MaxBytes: e.f.cfg.MaxManifest}
	info, err := prober.Probe(e.ctx, e.uri)
	if err != nil {
		e.fail(err, "manifest load failed")
		return
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.info = info
	e.mu.Unlock()

	e.logger.Debug().
		Str(xglog.FieldEvent, "engine.manifest_parsed").
		Bool("live", info.Live).
		Int("variants", info.Variants).
		Dur(xglog.FieldDuration, info.Duration).
		Msg("manifest parsed")

	if fn := e.cb.OnManifestParsed; fn != nil {
		fn(engine.ManifestInfo{
			Duration: info.Seconds(),
			Live:     info.Live,
			Variants: info.Variants,
		})
	}
	e.stream()
}

// stream runs a gohlslib client until it ends or fails.
func (e *Engine) stream() {
	c := &gohlslib.Client{
		URI:        e.uri,
		HTTPClient: e.f.client,
		OnTracks:   e.onTracks,
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	if err := c.Start(); err != nil {
		e.mu.Unlock()
		e.fail(err, "segment client start failed")
		return
	}
	e.client = c
	e.mu.Unlock()

	err := <-c.Wait()

	e.mu.Lock()
	if e.client == c {
		e.client = nil
	}
	e.mu.Unlock()

	if err == nil || errors.Is(err, gohlslib.ErrClientEOS) || errors.Is(err, context.Canceled) {
		e.logger.Debug().Str(xglog.FieldEvent, "engine.eos").Msg("segment client finished")
		return
	}
	e.fail(err, "segment client failed")
}

func (e *Engine) onTracks(tracks []*gohlslib.Track) error {
	e.mu.Lock()
	host := e.host
	info := e.info
	destroyed := e.destroyed
	e.mu.Unlock()
	if destroyed || host == nil {
		return ErrDestroyed
	}

	e.logger.Debug().
		Str(xglog.FieldEvent, "engine.tracks").
		Int("tracks", len(tracks)).
		Msg("tracks discovered")

	return host.AttachStream(media.StreamInfo{Duration: info.Seconds(), Live: info.Live})
}

func (e *Engine) fail(err error, msg string) {
	if e.isDestroyed() {
		return
	}
	typ := Classify(err)
	e.logger.Warn().Err(err).
		Str(xglog.FieldEvent, "engine.error").
		Str("type", string(typ)).
		Msg(msg)

	if fn := e.cb.OnError; fn != nil {
		fn(engine.ErrorEvent{Type: typ, Fatal: true, Details: msg + ": " + err.Error(), Err: err})
	}
}

// Classify maps a load error to an engine error type: transport and HTTP
// status failures are network errors, everything else is a media error.
func Classify(err error) engine.ErrorType {
	var (
		se     *manifest.StatusError
		netErr net.Error
		urlErr *url.Error
	)
	switch {
	case err == nil:
		return engine.ErrorTypeOther
	case errors.As(err, &se), errors.As(err, &netErr), errors.As(err, &urlErr),
		errors.Is(err, context.DeadlineExceeded):
		return engine.ErrorTypeNetwork
	case errors.Is(err, manifest.ErrParse), errors.Is(err, manifest.ErrEmpty), errors.Is(err, manifest.ErrTooLarge):
		return engine.ErrorTypeMedia
	case strings.Contains(err.Error(), "status code"):
		// gohlslib reports HTTP failures as plain errors.
		return engine.ErrorTypeNetwork
	default:
		return engine.ErrorTypeMedia
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"time"

	"github.com/ManuGH/hlsplay/internal/player/recovery"
	"github.com/ManuGH/hlsplay/internal/player/strategy"
	"github.com/rs/zerolog"
)

const (
	DefaultCompletionThreshold = 0.95
	DefaultUnmuteVolume        = 0.5
	DefaultInitialVolume       = 1.0
)

// Config holds the tunables of the player.
type Config struct {
	Policy              recovery.Policy
	CompletionThreshold float64 // fraction of duration that counts as complete
	DefaultUnmuteVolume float64 // used when unmuting with no remembered volume
	InitialVolume       float64
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		Policy:              recovery.DefaultPolicy(),
		CompletionThreshold: DefaultCompletionThreshold,
		DefaultUnmuteVolume: DefaultUnmuteVolume,
		InitialVolume:       DefaultInitialVolume,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.CompletionThreshold <= 0 || c.CompletionThreshold > 1 {
		c.CompletionThreshold = d.CompletionThreshold
	}
	if c.DefaultUnmuteVolume <= 0 || c.DefaultUnmuteVolume > 1 {
		c.DefaultUnmuteVolume = d.DefaultUnmuteVolume
	}
	if c.InitialVolume < 0 || c.InitialVolume > 1 {
		c.InitialVolume = d.InitialVolume
	}
	return c
}

// Callbacks are invoked outside the player's locks, in event order. Any may be nil.
type Callbacks struct {
	OnProgress    func(currentTime, duration float64)
	OnComplete    func()
	OnStateChange func(State)
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d on some goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Clock abstracts time for TTFF measurements.
type Clock interface {
	Now() time.Time
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configuration pattern
type Option func(*Player)

func WithConfig(cfg Config) Option {
	return func(p *Player) { p.cfg = cfg.normalized() }
}

func WithCallbacks(cb Callbacks) Option {
	return func(p *Player) { p.cb = cb }
}

func WithScheduler(s Scheduler) Option {
	return func(p *Player) { p.sched = s }
}

func WithClock(c Clock) Option {
	return func(p *Player) { p.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Player) { p.logger = l }
}

func WithContext(ctx context.Context) Option {
	return func(p *Player) { p.ctx = ctx }
}

// WithCapabilities overrides probing of the host and engine factory.
func WithCapabilities(caps strategy.Capabilities) Option {
	return func(p *Player) {
		c := caps
		p.capsOverride = &c
	}
}

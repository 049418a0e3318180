// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package player is the adaptive media player: it classifies a source,
// selects a playback strategy, owns the single streaming session bound to
// the media host and recovers from playback errors.
//
// Every input (user command, host event, engine event, retry timer) is an
// event processed by one serialized executor. Handlers never run
// concurrently and callbacks to the embedding code run outside all locks.
package player

import (
	"context"
	"math"
	"sync"
	"time"

	xglog "github.com/ManuGH/hlsplay/internal/log"
	"github.com/ManuGH/hlsplay/internal/metrics"
	"github.com/ManuGH/hlsplay/internal/player/engine"
	"github.com/ManuGH/hlsplay/internal/player/media"
	"github.com/ManuGH/hlsplay/internal/player/recovery"
	"github.com/ManuGH/hlsplay/internal/player/session"
	"github.com/ManuGH/hlsplay/internal/player/source"
	"github.com/ManuGH/hlsplay/internal/player/strategy"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Player controls playback of one source at a time on one media host.
type Player struct {
	host     media.Host
	sessions *session.Manager

	sched        Scheduler
	clock        Clock
	cb           Callbacks
	logger       zerolog.Logger
	ctx          context.Context
	capsOverride *strategy.Capabilities
	progressLog  rate.Sometimes

	qmu      sync.Mutex
	queue    []event
	draining bool

	stmu       sync.Mutex
	cfg        Config
	caps       strategy.Capabilities
	st         State
	handle     *session.Handle
	gen        uint64
	retryTimer Timer
	abandoned  map[strategy.Strategy]bool
	reinitUsed bool
	completed  bool
	volume     float64 // last volume set, kept while muted
	lastError  *recovery.ErrorInfo
	manifest   *ManifestSummary
	loadStart  time.Time
	ttffDone   bool
	closed     bool
	pending    []func()
}

// New creates an idle player bound to host. engines may be nil when no
// streaming engine exists.
func New(host media.Host, engines engine.Factory, opts ...Option) *Player {
	p := &Player{
		host:        host,
		sched:       realScheduler{},
		clock:       realClock{},
		cfg:         DefaultConfig(),
		logger:      xglog.WithComponent("player"),
		ctx:         context.Background(),
		progressLog: rate.Sometimes{Interval: 5 * time.Second},
		abandoned:   map[strategy.Strategy]bool{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.capsOverride != nil {
		p.caps = *p.capsOverride
	} else {
		var avail strategy.Availability
		if engines != nil {
			avail = engines
		}
		p.caps = strategy.ProbeCapabilities(host, avail)
	}

	p.sessions = session.NewManager(host, engines,
		session.WithLogger(p.logger),
		session.WithNow(p.clock.Now),
	)

	p.volume = p.cfg.InitialVolume
	p.st = State{
		Phase:  PhaseIdle,
		Source: source.Classify(""),
		Volume: p.volume,
	}

	p.logger.Debug().
		Str(xglog.FieldEvent, "player.created").
		Bool("library_available", p.caps.LibraryAvailable).
		Bool("native_hls", p.caps.NativeHLS).
		Msg("player created")
	return p
}

// SetSource replaces the current source. An empty url leaves the player idle.
func (p *Player) SetSource(url string) { p.dispatch(sourceChanged{url: url}) }

// Play starts or resumes playback. No-op until the session is ready.
func (p *Player) Play() { p.dispatch(userCommand{kind: cmdPlay}) }

// Pause halts playback. No-op until the session is ready.
func (p *Player) Pause() { p.dispatch(userCommand{kind: cmdPause}) }

// Seek moves to seconds, clamped to [0, duration]. No-op while the duration is unknown.
func (p *Player) Seek(seconds float64) { p.dispatch(userCommand{kind: cmdSeek, value: seconds}) }

// SetVolume sets the volume, clamped to [0, 1]. Zero mutes.
func (p *Player) SetVolume(v float64) { p.dispatch(userCommand{kind: cmdSetVolume, value: v}) }

// ToggleMute flips mute. Unmuting at volume 0 restores the default unmute volume.
func (p *Player) ToggleMute() { p.dispatch(userCommand{kind: cmdToggleMute}) }

// Restart seeks to the beginning without changing play/pause state.
func (p *Player) Restart() { p.dispatch(userCommand{kind: cmdRestart}) }

// Retry tears everything down and starts the current source from scratch.
// It works from any phase, including after a terminal error.
func (p *Player) Retry() { p.dispatch(userCommand{kind: cmdRetry}) }

// Close stops the session and cancels pending timers. The player ignores
// all input afterwards.
func (p *Player) Close() { p.dispatch(userCommand{kind: cmdClose}) }

// ApplyConfig swaps tunables. Retry policy and completion threshold apply to
// the next decision; the initial volume is only read by New.
func (p *Player) ApplyConfig(cfg Config) { p.dispatch(configChanged{cfg: cfg.normalized()}) }

// Snapshot returns the current state.
func (p *Player) Snapshot() State {
	p.stmu.Lock()
	defer p.stmu.Unlock()
	return p.st
}

// LiveSessions returns the number of sessions currently holding the host.
func (p *Player) LiveSessions() int {
	return p.sessions.Live()
}

// Diagnostics returns the support view of the player.
func (p *Player) Diagnostics() Diagnostics {
	p.stmu.Lock()
	defer p.stmu.Unlock()

	d := Diagnostics{
		SourceURL:     p.st.Source.URL,
		SourceKind:    p.st.Source.Kind,
		Strategy:      p.st.Strategy,
		Phase:         p.st.Phase,
		RetryCount:    p.st.RetryCount,
		DurationKnown: p.st.DurationKnown,
		Duration:      p.st.Duration,
		SessionID:     p.st.SessionID,
		Generation:    p.gen,
		ReinitUsed:    p.reinitUsed,
		Capabilities:  Capabilities{LibraryAvailable: p.caps.LibraryAvailable, NativeHLS: p.caps.NativeHLS},
		LiveSessions:  p.sessions.Live(),
		FallbackURL:   p.st.Source.URL,
	}
	if p.lastError != nil {
		e := *p.lastError
		d.LastError = &e
	}
	if p.manifest != nil {
		m := *p.manifest
		d.Manifest = &m
	}
	for _, s := range []strategy.Strategy{strategy.LibraryHLS, strategy.NativeHLS, strategy.Native} {
		if p.abandoned[s] {
			d.Abandoned = append(d.Abandoned, s)
		}
	}
	return d
}

// dispatch queues ev and, unless another call is already draining the queue,
// drains it. Handlers that dispatch (directly or through a synchronous host)
// only enqueue.
func (p *Player) dispatch(ev event) {
	p.qmu.Lock()
	p.queue = append(p.queue, ev)
	if p.draining {
		p.qmu.Unlock()
		return
	}
	p.draining = true
	p.qmu.Unlock()

	for {
		p.qmu.Lock()
		if len(p.queue) == 0 {
			p.draining = false
			p.qmu.Unlock()
			return
		}
		next := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.qmu.Unlock()

		p.stmu.Lock()
		prev := p.st
		p.step(next)
		if p.st != prev && p.cb.OnStateChange != nil {
			st := p.st
			fn := p.cb.OnStateChange
			p.pending = append(p.pending, func() { fn(st) })
		}
		calls := p.pending
		p.pending = nil
		p.stmu.Unlock()

		for _, fn := range calls {
			fn()
		}
	}
}

func (p *Player) later(fn func()) {
	p.pending = append(p.pending, fn)
}

func (p *Player) step(ev event) {
	if p.closed {
		return
	}
	switch e := ev.(type) {
	case sourceChanged:
		p.onSourceChanged(e.url)
	case mediaEvent:
		if !p.current(e.gen) {
			p.dropStale("media."+string(e.ev.Kind), e.gen)
			return
		}
		p.onMedia(e.ev)
	case manifestParsed:
		if !p.current(e.gen) {
			p.dropStale("engine.manifest_parsed", e.gen)
			return
		}
		p.onManifest(e.info)
	case engineError:
		if !p.current(e.gen) {
			p.dropStale("engine.error", e.gen)
			return
		}
		p.onEngineError(e.ev)
	case retryTimerFired:
		p.onRetryTimer(e.gen)
	case userCommand:
		p.onCommand(e)
	case configChanged:
		p.cfg = e.cfg
		p.logger.Info().
			Str(xglog.FieldEvent, "player.config_applied").
			Int("retry_limit", e.cfg.Policy.MaxRetries).
			Dur("retry_delay", e.cfg.Policy.RetryDelay).
			Float64("completion_threshold", e.cfg.CompletionThreshold).
			Msg("player config applied")
	}
}

// current reports whether an event tagged gen belongs to the live session.
func (p *Player) current(gen uint64) bool {
	return gen == p.gen && p.handle != nil && !p.handle.Stopped()
}

func (p *Player) dropStale(kind string, gen uint64) {
	p.logger.Debug().
		Str(xglog.FieldEvent, "player.stale_event").
		Str("kind", kind).
		Uint64(xglog.FieldGeneration, gen).
		Uint64("current_generation", p.gen).
		Msg("dropping event of a superseded session")
}

func (p *Player) onSourceChanged(url string) {
	p.teardown()
	p.gen++

	src := source.Classify(url)
	p.abandoned = map[strategy.Strategy]bool{}
	p.reinitUsed = false
	p.lastError = nil
	p.manifest = nil
	p.st = State{
		Phase:      PhaseIdle,
		Source:     src,
		Volume:     p.effectiveVolume(),
		IsMuted:    p.st.IsMuted,
		Generation: p.gen,
	}

	p.logger.Info().
		Str(xglog.FieldEvent, "player.source_changed").
		Str(xglog.FieldSource, src.URL).
		Str(xglog.FieldSourceKind, string(src.Kind)).
		Msg("source changed")

	if src.Empty() {
		return
	}
	p.startInitial()
}

func (p *Player) startInitial() {
	strat, err := strategy.SelectInitial(p.st.Source, p.caps)
	if err != nil {
		// Only reachable for HLS with neither engine nor native support.
		info := recovery.Classify(recovery.Signal{Origin: recovery.OriginStart, Fatal: true, Err: recovery.ErrUnsupportedFormat})
		metrics.IncPlaybackError(string(info.Category), string(strategy.None), true)
		p.terminal(info)
		return
	}
	p.startSession(strat)
}

// startSession stops whatever is live and starts strat under a new generation.
func (p *Player) startSession(strat strategy.Strategy) {
	p.teardown()
	p.gen++
	gen := p.gen
	p.completed = false
	p.ttffDone = false
	p.loadStart = p.clock.Now()

	p.st.Phase = PhaseLoading
	p.st.Strategy = strat
	p.st.IsLoading = true
	p.st.IsPlaying = false
	p.st.CurrentTime = 0
	p.st.Duration = 0
	p.st.DurationKnown = false
	p.st.Error = nil
	p.st.SessionID = ""
	p.st.Generation = gen

	// Volume and mute belong to the UI, not to the session.
	p.host.SetVolume(p.volume)
	p.host.SetMuted(p.st.IsMuted)

	h, err := p.sessions.Start(p.ctx, strat, p.st.Source, gen, session.Hooks{
		OnMedia:          func(ev media.Event) { p.dispatch(mediaEvent{gen: gen, ev: ev}) },
		OnManifestParsed: func(info engine.ManifestInfo) { p.dispatch(manifestParsed{gen: gen, info: info}) },
		OnEngineError:    func(ev engine.ErrorEvent) { p.dispatch(engineError{gen: gen, ev: ev}) },
	})
	if err != nil {
		p.handleError(recovery.FromStartError(err))
		return
	}
	p.handle = h
	p.st.SessionID = h.ID

	p.logger.Info().
		Str(xglog.FieldEvent, "player.session_started").
		Str(xglog.FieldSessionID, h.ID).
		Str(xglog.FieldStrategy, string(strat)).
		Uint64(xglog.FieldGeneration, gen).
		Int(xglog.FieldRetryCount, p.st.RetryCount).
		Msg("playback session started")
}

// teardown cancels the retry timer and stops the live session.
func (p *Player) teardown() {
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	if p.handle != nil {
		p.sessions.Stop(p.handle)
		p.handle = nil
	}
}

func (p *Player) onMedia(ev media.Event) {
	if !math.IsNaN(ev.Duration) {
		p.updateDuration(ev)
	}

	switch ev.Kind {
	case media.EventLoadedMetadata:
		if p.st.Phase == PhaseLoading {
			p.st.Phase = PhaseReady
		}
	case media.EventCanPlay:
		if p.st.Phase == PhaseLoading {
			p.st.Phase = PhaseReady
		}
		p.st.IsLoading = false
		p.st.RetryCount = 0
		p.st.Error = nil
		p.observeTTFF("ok")
	case media.EventWaiting:
		p.st.IsLoading = true
	case media.EventPlay:
		p.st.IsPlaying = true
		p.st.Phase = PhasePlaying
	case media.EventPause:
		p.st.IsPlaying = false
		if p.st.Phase == PhasePlaying {
			p.st.Phase = PhasePaused
		}
	case media.EventTimeUpdate:
		if ev.CurrentTime >= 0 {
			p.st.CurrentTime = ev.CurrentTime
		}
		p.st.IsLoading = false
		p.progress()
	case media.EventEnded:
		p.st.IsPlaying = false
		p.st.CurrentTime = 0
		p.st.Phase = PhasePaused
		p.host.Seek(0)
		p.complete()
	case media.EventError:
		p.handleError(recovery.FromMediaEvent(ev))
	}
}

func (p *Player) updateDuration(ev media.Event) {
	if ev.DurationKnown() {
		p.st.Duration = ev.Duration
		p.st.DurationKnown = true
	}
}

func (p *Player) progress() {
	cur, dur := p.st.CurrentTime, 0.0
	if p.st.DurationKnown {
		dur = p.st.Duration
	}
	if fn := p.cb.OnProgress; fn != nil {
		p.later(func() { fn(cur, dur) })
	}
	p.progressLog.Do(func() {
		p.logger.Debug().
			Str(xglog.FieldEvent, "player.progress").
			Str(xglog.FieldSessionID, p.st.SessionID).
			Float64(xglog.FieldPosition, cur).
			Float64(xglog.FieldDuration, dur).
			Msg("playback progress")
	})

	if dur > 0 && cur/dur >= p.cfg.CompletionThreshold {
		p.complete()
	}
}

// complete fires OnComplete at most once per session.
func (p *Player) complete() {
	if p.completed {
		return
	}
	p.completed = true
	metrics.IncPlaybackCompleted(string(p.st.Strategy))
	p.logger.Info().
		Str(xglog.FieldEvent, "player.completed").
		Str(xglog.FieldSessionID, p.st.SessionID).
		Msg("playback completed")
	if fn := p.cb.OnComplete; fn != nil {
		p.later(fn)
	}
}

func (p *Player) observeTTFF(outcome string) {
	if p.ttffDone {
		return
	}
	p.ttffDone = true
	metrics.ObservePlaybackTTFF(string(p.st.Strategy), outcome, p.clock.Now().Sub(p.loadStart).Seconds())
}

func (p *Player) onManifest(info engine.ManifestInfo) {
	p.manifest = &ManifestSummary{Live: info.Live, Variants: info.Variants}
	if !info.Live && info.Duration > 0 {
		p.st.Duration = info.Duration
		p.st.DurationKnown = true
	}
	p.logger.Debug().
		Str(xglog.FieldEvent, "player.manifest_parsed").
		Bool("live", info.Live).
		Int("variants", info.Variants).
		Float64(xglog.FieldDuration, info.Duration).
		Msg("manifest parsed")
}

func (p *Player) onEngineError(ev engine.ErrorEvent) {
	p.handleError(recovery.FromEngineEvent(ev))
}

// handleError classifies sig and applies the recovery decision.
func (p *Player) handleError(sig recovery.Signal) {
	info := recovery.Classify(sig)
	strat := p.st.Strategy
	metrics.IncPlaybackError(string(info.Category), string(strat), sig.Fatal)

	decision := p.cfg.Policy.Decide(recovery.Input{
		Error:         info,
		Fatal:         sig.Fatal,
		RetryCount:    p.st.RetryCount,
		Strategy:      strat,
		Fallback:      p.fallbackCandidate(),
		LibraryReinit: !p.reinitUsed && p.caps.LibraryAvailable,
	})

	logger := p.logger.With().
		Str(xglog.FieldSessionID, p.st.SessionID).
		Str(xglog.FieldStrategy, string(strat)).
		Str(xglog.FieldCategory, string(info.Category)).
		Str(xglog.FieldAction, string(decision.Action)).
		Bool(xglog.FieldFatal, sig.Fatal).
		Int(xglog.FieldRetryCount, p.st.RetryCount).
		Logger()

	if decision.Action == recovery.ActionIgnore {
		logger.Debug().Str(xglog.FieldEvent, "player.error_ignored").Msg(info.Message)
		return
	}

	p.lastError = &info
	metrics.IncPlaybackRecovery(string(decision.Action), string(strat))
	logger.Warn().Str(xglog.FieldEvent, "player.error").Msg(info.Message)

	switch decision.Action {
	case recovery.ActionRetry:
		p.scheduleRetry(decision.Delay)
	case recovery.ActionReinitLibrary:
		p.reinitUsed = true
		p.abandoned[strat] = true
		p.st.RetryCount = 0
		p.startSession(decision.Next)
	case recovery.ActionFallback:
		p.abandoned[strat] = true
		p.st.RetryCount = 0
		p.startSession(decision.Next)
	default:
		p.observeTTFF("failed")
		p.terminal(info)
	}
}

// fallbackCandidate returns the next strategy that has not been abandoned
// for this source, or strategy.None.
func (p *Player) fallbackCandidate() strategy.Strategy {
	next, ok := strategy.SelectFallback(p.st.Strategy, p.st.Source, p.caps)
	if !ok || p.abandoned[next] {
		return strategy.None
	}
	return next
}

func (p *Player) scheduleRetry(delay time.Duration) {
	p.teardown()
	p.st.RetryCount++
	p.st.Phase = PhaseLoading
	p.st.IsLoading = true
	p.st.IsPlaying = false
	p.st.SessionID = ""

	gen := p.gen
	p.retryTimer = p.sched.AfterFunc(delay, func() {
		p.dispatch(retryTimerFired{gen: gen})
	})
}

func (p *Player) onRetryTimer(gen uint64) {
	if gen != p.gen || p.handle != nil || p.st.Phase != PhaseLoading {
		p.dropStale("retry_timer", gen)
		return
	}
	p.retryTimer = nil
	p.startSession(p.st.Strategy)
}

func (p *Player) terminal(info recovery.ErrorInfo) {
	p.teardown()
	p.lastError = &info
	p.st.Phase = PhaseError
	p.st.Error = &info
	p.st.IsLoading = false
	p.st.IsPlaying = false
	p.st.SessionID = ""
	p.logger.Error().
		Str(xglog.FieldEvent, "player.terminal").
		Str(xglog.FieldSource, p.st.Source.URL).
		Str(xglog.FieldStrategy, string(p.st.Strategy)).
		Str(xglog.FieldCategory, string(info.Category)).
		Msg(info.Message)
}

func (p *Player) onCommand(c userCommand) {
	switch c.kind {
	case cmdPlay:
		if p.st.Source.Empty() {
			ns := recovery.NoSource()
			p.lastError = &ns
			return
		}
		if !p.attached() {
			return
		}
		if err := p.host.Play(); err != nil {
			p.logger.Warn().Err(err).Str(xglog.FieldEvent, "player.play_rejected").Msg("host rejected play")
			return
		}
		p.st.IsPlaying = true
		p.st.Phase = PhasePlaying
	case cmdPause:
		if !p.attached() {
			return
		}
		p.host.Pause()
		p.st.IsPlaying = false
		if p.st.Phase == PhasePlaying {
			p.st.Phase = PhasePaused
		}
	case cmdSeek:
		if !p.attached() || !p.st.DurationKnown {
			return
		}
		t := clamp(c.value, 0, p.st.Duration)
		p.host.Seek(t)
		p.st.CurrentTime = t
	case cmdRestart:
		if !p.attached() {
			return
		}
		p.host.Seek(0)
		p.st.CurrentTime = 0
	case cmdSetVolume:
		v := clamp(c.value, 0, 1)
		p.volume = v
		if v == 0 {
			p.st.IsMuted = true
		}
		p.st.Volume = p.effectiveVolume()
		p.applyVolume()
	case cmdToggleMute:
		if p.st.IsMuted {
			p.st.IsMuted = false
			if p.volume == 0 {
				p.volume = p.cfg.DefaultUnmuteVolume
			}
		} else {
			p.st.IsMuted = true
		}
		p.st.Volume = p.effectiveVolume()
		p.applyVolume()
	case cmdRetry:
		p.manualRetry()
	case cmdClose:
		p.teardown()
		p.gen++
		p.closed = true
		p.st.IsPlaying = false
		p.st.IsLoading = false
		p.st.SessionID = ""
		p.st.Generation = p.gen
		p.logger.Debug().Str(xglog.FieldEvent, "player.closed").Msg("player closed")
	}
}

func (p *Player) manualRetry() {
	if p.st.Source.Empty() {
		ns := recovery.NoSource()
		p.lastError = &ns
		return
	}
	metrics.IncPlaybackRecovery("manual_retry", string(p.st.Strategy))
	p.logger.Info().
		Str(xglog.FieldEvent, "player.manual_retry").
		Str(xglog.FieldSource, p.st.Source.URL).
		Str(xglog.FieldOldState, string(p.st.Phase)).
		Msg("manual retry")

	p.teardown()
	p.abandoned = map[strategy.Strategy]bool{}
	p.reinitUsed = false
	p.lastError = nil
	p.st.RetryCount = 0
	p.st.Error = nil
	p.startInitial()
}

// attached reports whether transport commands reach the host.
func (p *Player) attached() bool {
	return p.handle != nil && p.st.Phase.active()
}

func (p *Player) effectiveVolume() float64 {
	if p.st.IsMuted {
		return 0
	}
	return p.volume
}

func (p *Player) applyVolume() {
	if p.handle == nil {
		return
	}
	p.host.SetVolume(p.volume)
	p.host.SetMuted(p.st.IsMuted)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

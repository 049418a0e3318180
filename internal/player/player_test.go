// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/hlsplay/internal/player/engine"
	"github.com/ManuGH/hlsplay/internal/player/media"
	"github.com/ManuGH/hlsplay/internal/player/recovery"
	"github.com/ManuGH/hlsplay/internal/player/source"
	"github.com/ManuGH/hlsplay/internal/player/strategy"
	"github.com/ManuGH/hlsplay/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	hlsURL    = "https://cdn.example.com/course/stream.m3u8?token=abc"
	directURL = "https://cdn.example.com/course/lesson.mp3"
)

type schedAdapter struct {
	*testutil.ManualScheduler
}

func (s schedAdapter) AfterFunc(d time.Duration, f func()) Timer {
	return s.ManualScheduler.AfterFunc(d, f)
}

type rig struct {
	p       *Player
	host    *testutil.FakeHost
	engines *testutil.FakeEngineFactory
	sched   *testutil.ManualScheduler
	clock   *testutil.ManualClock

	mu        sync.Mutex
	completes int
	progress  [][2]float64
	states    []State
}

type rigOpts struct {
	library   bool
	nativeHLS bool
	cfg       *Config
}

func newRig(t *testing.T, o rigOpts) *rig {
	t.Helper()
	canPlay := map[string]media.CanPlay{}
	if o.nativeHLS {
		canPlay[source.MIMEAppleMPEGURL] = media.CanPlayMaybe
	}
	r := &rig{
		host:    testutil.NewFakeHost(canPlay),
		engines: testutil.NewFakeEngineFactory(o.library),
		sched:   testutil.NewManualScheduler(),
		clock:   testutil.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	opts := []Option{
		WithScheduler(schedAdapter{r.sched}),
		WithClock(r.clock),
		WithLogger(zerolog.Nop()),
		WithCallbacks(Callbacks{
			OnProgress: func(cur, dur float64) {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.progress = append(r.progress, [2]float64{cur, dur})
			},
			OnComplete: func() {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.completes++
			},
			OnStateChange: func(st State) {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.states = append(r.states, st)
			},
		}),
	}
	if o.cfg != nil {
		opts = append(opts, WithConfig(*o.cfg))
	}
	r.p = New(r.host, r.engines, opts...)
	t.Cleanup(r.p.Close)
	return r
}

func (r *rig) completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes
}

func TestDirectSourcePlaysNatively(t *testing.T) {
	r := newRig(t, rigOpts{library: true, nativeHLS: true})

	r.p.SetSource(directURL)
	st := r.p.Snapshot()
	assert.Equal(t, PhaseLoading, st.Phase)
	assert.Equal(t, strategy.Native, st.Strategy)
	assert.Equal(t, source.KindDirect, st.Source.Kind)
	assert.True(t, st.IsLoading)
	assert.Equal(t, directURL, r.host.LastSource())
	assert.Empty(t, r.engines.Engines())

	r.host.Ready(120)
	st = r.p.Snapshot()
	assert.Equal(t, PhaseReady, st.Phase)
	assert.False(t, st.IsLoading)
	assert.True(t, st.DurationKnown)
	assert.Equal(t, 120.0, st.Duration)

	r.p.Play()
	st = r.p.Snapshot()
	assert.True(t, st.IsPlaying)
	assert.Equal(t, PhasePlaying, st.Phase)
	assert.Equal(t, 1, r.host.Plays)

	r.p.Pause()
	st = r.p.Snapshot()
	assert.False(t, st.IsPlaying)
	assert.Equal(t, PhasePaused, st.Phase)
	assert.Equal(t, 1, r.p.LiveSessions())
}

func TestLibraryRetriesTwiceThenFallsBack(t *testing.T) {
	tests := []struct {
		name      string
		nativeHLS bool
		wantPhase Phase
		wantStrat strategy.Strategy
		wantLive  int
		wantRetry int
	}{
		{name: "native hls available", nativeHLS: true, wantPhase: PhaseLoading, wantStrat: strategy.NativeHLS, wantLive: 1, wantRetry: 0},
		{name: "no fallback", nativeHLS: false, wantPhase: PhaseError, wantStrat: strategy.LibraryHLS, wantLive: 0, wantRetry: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, rigOpts{library: true, nativeHLS: tt.nativeHLS})
			r.p.SetSource(hlsURL)
			require.Equal(t, strategy.LibraryHLS, r.p.Snapshot().Strategy)

			var delays []time.Duration
			for i := 0; i < 2; i++ {
				r.engines.Last().Fail(engine.ErrorTypeNetwork, true)
				st := r.p.Snapshot()
				assert.Equal(t, PhaseLoading, st.Phase)
				assert.Equal(t, i+1, st.RetryCount)
				assert.Equal(t, 0, r.p.LiveSessions(), "session is released while waiting to retry")

				pending := r.sched.Pending()
				require.Len(t, pending, 1)
				delays = append(delays, pending[0].Delay)
				require.True(t, r.sched.FireNext())
				assert.Equal(t, 1, r.p.LiveSessions())
			}
			assert.Equal(t, []time.Duration{time.Second, time.Second}, delays)
			require.Len(t, r.engines.Engines(), 3)

			r.engines.Last().Fail(engine.ErrorTypeNetwork, true)
			st := r.p.Snapshot()
			assert.Empty(t, r.sched.Pending(), "no third automatic retry")
			assert.Equal(t, tt.wantPhase, st.Phase)
			assert.Equal(t, tt.wantStrat, st.Strategy)
			assert.Equal(t, tt.wantRetry, st.RetryCount)
			assert.Equal(t, tt.wantRetry, r.p.Diagnostics().RetryCount)
			assert.Equal(t, tt.wantLive, r.p.LiveSessions())
			assert.Equal(t, 0, r.engines.Live())

			if tt.nativeHLS {
				assert.Equal(t, hlsURL, r.host.LastSource())
				assert.Nil(t, st.Error)
			} else {
				require.NotNil(t, st.Error)
				assert.Equal(t, recovery.CategoryNetwork, st.Error.Category)
				assert.ErrorIs(t, *st.Error, recovery.ErrNetwork)
			}
		})
	}
}

func TestNativeHLSDecodeErrorReinitsLibraryOnce(t *testing.T) {
	r := newRig(t, rigOpts{library: true, nativeHLS: true})
	r.p.SetSource(hlsURL)

	// An "other" fatal engine error is unknown: straight to native HLS.
	r.engines.Last().Fail(engine.ErrorTypeOther, true)
	st := r.p.Snapshot()
	require.Equal(t, strategy.NativeHLS, st.Strategy)
	require.Empty(t, r.sched.Pending())

	r.host.Fail(media.ErrorCodeDecode)
	st = r.p.Snapshot()
	assert.Equal(t, strategy.LibraryHLS, st.Strategy)
	assert.Equal(t, PhaseLoading, st.Phase)
	assert.Equal(t, 0, st.RetryCount)
	assert.Empty(t, r.sched.Pending(), "re-init is immediate")
	require.Len(t, r.engines.Engines(), 2)
	assert.Equal(t, 1, r.engines.Live())
	assert.True(t, r.p.Diagnostics().ReinitUsed)

	// Both strategies are used up; the next unknown error is terminal.
	r.engines.Last().Fail(engine.ErrorTypeOther, true)
	st = r.p.Snapshot()
	assert.Equal(t, PhaseError, st.Phase)
	assert.Equal(t, 0, r.p.LiveSessions())
	assert.ElementsMatch(t, []strategy.Strategy{strategy.LibraryHLS, strategy.NativeHLS}, r.p.Diagnostics().Abandoned)
}

func TestVolumeAndMute(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)
	r.host.Ready(60)

	r.p.SetVolume(0.6)
	r.p.ToggleMute()
	st := r.p.Snapshot()
	assert.True(t, st.IsMuted)
	assert.Equal(t, 0.0, st.Volume)
	assert.True(t, r.host.Muted)

	r.p.ToggleMute()
	st = r.p.Snapshot()
	assert.False(t, st.IsMuted)
	assert.Equal(t, 0.6, st.Volume)
	assert.Equal(t, 0.6, r.host.Volume)

	r.p.SetVolume(0)
	assert.True(t, r.p.Snapshot().IsMuted)

	r.p.SetVolume(0.8)
	st = r.p.Snapshot()
	assert.True(t, st.IsMuted, "raising the volume does not unmute")
	assert.Equal(t, 0.0, st.Volume)

	r.p.ToggleMute()
	assert.Equal(t, 0.8, r.p.Snapshot().Volume)

	r.p.SetVolume(0)
	r.p.ToggleMute()
	assert.Equal(t, DefaultUnmuteVolume, r.p.Snapshot().Volume)

	r.p.SetVolume(7)
	assert.Equal(t, 1.0, r.p.Snapshot().Volume)
}

func TestVolumeSurvivesSourceChange(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetVolume(0.3)
	r.p.ToggleMute()

	r.p.SetSource(directURL)
	st := r.p.Snapshot()
	assert.True(t, st.IsMuted)
	assert.Equal(t, 0.3, r.host.Volume)
	assert.True(t, r.host.Muted)

	r.p.SetSource("https://cdn.example.com/other.mp4")
	assert.True(t, r.p.Snapshot().IsMuted)
	r.p.ToggleMute()
	assert.Equal(t, 0.3, r.p.Snapshot().Volume)
}

func TestRapidSourceSwapDiscardsStaleEvents(t *testing.T) {
	r := newRig(t, rigOpts{library: true, nativeHLS: true})

	r.p.SetSource(hlsURL)
	engA := r.engines.Last()
	genA := r.p.Snapshot().Generation

	r.p.SetSource(directURL)
	want := r.p.Snapshot()
	require.Equal(t, strategy.Native, want.Strategy)
	assert.True(t, engA.Destroyed())

	// Callbacks the stopped session still holds.
	engA.ParseManifest(engine.ManifestInfo{Duration: 30})
	engA.Fail(engine.ErrorTypeNetwork, true)

	// Events that were already queued when the swap happened.
	r.p.dispatch(mediaEvent{gen: genA, ev: media.Event{Kind: media.EventCanPlay, Duration: 30}})
	r.p.dispatch(engineError{gen: genA, ev: engine.ErrorEvent{Type: engine.ErrorTypeNetwork, Fatal: true}})

	if diff := cmp.Diff(want, r.p.Snapshot(), cmp.AllowUnexported(recovery.ErrorInfo{})); diff != "" {
		t.Fatalf("state changed by stale events (-want +got):\n%s", diff)
	}
	assert.Empty(t, r.sched.Pending())
	assert.Equal(t, 1, r.p.LiveSessions())
	assert.Equal(t, 0, r.engines.Live())

	r.host.Ready(200)
	assert.Equal(t, 200.0, r.p.Snapshot().Duration)
}

func TestStaleRetryTimerIsIgnored(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)
	r.host.Fail(media.ErrorCodeNetwork)

	pending := r.sched.Pending()
	require.Len(t, pending, 1)
	timer := pending[0]

	r.p.SetSource("https://cdn.example.com/next.mp3")
	want := r.p.Snapshot()
	assert.Empty(t, r.sched.Pending(), "source change cancels the retry")

	timer.FireStopped()
	if diff := cmp.Diff(want, r.p.Snapshot(), cmp.AllowUnexported(recovery.ErrorInfo{})); diff != "" {
		t.Fatalf("stale retry timer changed state (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, r.p.LiveSessions())
}

func TestEmptySourceIsIdle(t *testing.T) {
	r := newRig(t, rigOpts{library: true})

	r.p.SetSource("   ")
	r.p.Play()
	st := r.p.Snapshot()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Error)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 0, r.host.Plays)
	assert.Equal(t, 0, r.p.LiveSessions())

	diag := r.p.Diagnostics()
	require.NotNil(t, diag.LastError)
	assert.ErrorIs(t, *diag.LastError, recovery.ErrNoSource)
}

func TestCompletionFiresOnce(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)
	r.host.Ready(100)
	r.p.Play()

	for _, pos := range []float64{10, 94.9, 95, 97, 99.5} {
		r.host.TimeUpdate(pos, 100)
	}
	assert.Equal(t, 1, r.completions())

	r.p.Seek(10)
	r.host.TimeUpdate(10, 100)
	r.host.TimeUpdate(96, 100)
	r.host.Emit(media.Event{Kind: media.EventEnded, Duration: 100})
	assert.Equal(t, 1, r.completions())

	st := r.p.Snapshot()
	assert.Equal(t, PhasePaused, st.Phase)
	assert.Equal(t, 0.0, st.CurrentTime)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 0.0, r.host.Seeks[len(r.host.Seeks)-1])

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, [2]float64{95, 100}, r.progress[2])
}

func TestCompletionThresholdIsConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompletionThreshold = 0.5
	r := newRig(t, rigOpts{cfg: &cfg})
	r.p.SetSource(directURL)
	r.host.Ready(100)

	r.host.TimeUpdate(49, 100)
	assert.Equal(t, 0, r.completions())
	r.host.TimeUpdate(50, 100)
	assert.Equal(t, 1, r.completions())
}

func TestEndedFiresCompletionWithoutThreshold(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)
	r.host.Emit(media.Event{Kind: media.EventCanPlay, Duration: media.UnknownDuration()})
	r.host.Emit(media.Event{Kind: media.EventEnded, Duration: media.UnknownDuration()})
	assert.Equal(t, 1, r.completions())
}

func TestUnknownDuration(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)
	r.host.Emit(media.Event{Kind: media.EventCanPlay, Duration: media.UnknownDuration()})

	r.p.Seek(30)
	assert.Empty(t, r.host.Seeks)

	r.host.TimeUpdate(12, media.UnknownDuration())
	r.mu.Lock()
	assert.Equal(t, [][2]float64{{12, 0}}, r.progress)
	r.mu.Unlock()

	r.p.Restart()
	assert.Equal(t, []float64{0}, r.host.Seeks)
	assert.Equal(t, 0, r.completions())
}

func TestSeekClampsAndRestartKeepsPlayState(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)
	r.host.Ready(50)
	r.p.Play()

	r.p.Seek(80)
	r.p.Seek(-3)
	assert.Equal(t, []float64{50, 0}, r.host.Seeks)

	r.p.Seek(20)
	r.p.Restart()
	st := r.p.Snapshot()
	assert.Equal(t, 0.0, st.CurrentTime)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, PhasePlaying, st.Phase)
}

func TestTransportIsNoOpWhileLoading(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)

	r.p.Play()
	r.p.Pause()
	r.p.Seek(3)
	r.p.Restart()

	st := r.p.Snapshot()
	assert.Equal(t, PhaseLoading, st.Phase)
	assert.False(t, st.IsPlaying)
	assert.Zero(t, r.host.Plays)
	assert.Zero(t, r.host.Pauses)
	assert.Empty(t, r.host.Seeks)
}

func TestDirectFailureIsTerminalAfterRetriesAndManualRetryRecovers(t *testing.T) {
	r := newRig(t, rigOpts{library: true, nativeHLS: true})
	r.p.SetSource(directURL)

	for i := 0; i < 2; i++ {
		r.host.Fail(media.ErrorCodeNetwork)
		require.True(t, r.sched.FireNext())
	}
	r.host.Fail(media.ErrorCodeNetwork)

	st := r.p.Snapshot()
	require.Equal(t, PhaseError, st.Phase)
	require.NotNil(t, st.Error)
	assert.Equal(t, recovery.CategoryNetwork, st.Error.Category)
	assert.Equal(t, 0, r.p.LiveSessions())

	// Transport stays inert in the error phase.
	r.p.Play()
	assert.Zero(t, r.host.Plays)

	r.p.Retry()
	st = r.p.Snapshot()
	assert.Equal(t, PhaseLoading, st.Phase)
	assert.Nil(t, st.Error)
	assert.Equal(t, 0, st.RetryCount)
	assert.Equal(t, 1, r.p.LiveSessions())

	r.host.Ready(10)
	assert.Equal(t, PhaseReady, r.p.Snapshot().Phase)
}

func TestUnsupportedIsTerminalImmediately(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)
	r.host.Fail(media.ErrorCodeSrcNotSupported)

	st := r.p.Snapshot()
	assert.Equal(t, PhaseError, st.Phase)
	require.NotNil(t, st.Error)
	assert.Equal(t, recovery.CategoryUnsupported, st.Error.Category)
	assert.Empty(t, r.sched.Pending())
	assert.Equal(t, directURL, r.p.Diagnostics().FallbackURL)
}

func TestHLSWithoutAnyStrategyIsUnsupported(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(hlsURL)

	st := r.p.Snapshot()
	assert.Equal(t, PhaseError, st.Phase)
	require.NotNil(t, st.Error)
	assert.Equal(t, recovery.CategoryUnsupported, st.Error.Category)
	assert.Equal(t, 0, r.p.LiveSessions())
}

func TestCanPlayResetsRetryCount(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)

	r.host.Fail(media.ErrorCodeNetwork)
	require.True(t, r.sched.FireNext())
	require.Equal(t, 1, r.p.Snapshot().RetryCount)

	r.host.Ready(10)
	assert.Equal(t, 0, r.p.Snapshot().RetryCount)

	// Full retry budget again.
	r.host.Fail(media.ErrorCodeDecode)
	assert.Len(t, r.sched.Pending(), 1)
}

func TestNonFatalErrorsAreIgnored(t *testing.T) {
	r := newRig(t, rigOpts{library: true})
	r.p.SetSource(hlsURL)
	r.engines.Last().ParseManifest(engine.ManifestInfo{Duration: 600, Variants: 3})
	r.host.Ready(600)
	want := r.p.Snapshot()

	r.engines.Last().Fail(engine.ErrorTypeNetwork, false)
	r.engines.Last().Fail(engine.ErrorTypeMedia, false)
	r.host.Fail(media.ErrorCodeAborted)

	assert.Equal(t, want, r.p.Snapshot())
	assert.Empty(t, r.sched.Pending())
	assert.Equal(t, 1, r.engines.Last().StartLoads)
	assert.Equal(t, 1, r.engines.Last().MediaRecoveries)

	diag := r.p.Diagnostics()
	require.NotNil(t, diag.Manifest)
	assert.Equal(t, 3, diag.Manifest.Variants)
}

func TestApplyConfigChangesRetryPolicy(t *testing.T) {
	r := newRig(t, rigOpts{})
	cfg := DefaultConfig()
	cfg.Policy = recovery.Policy{MaxRetries: 0, RetryDelay: time.Second}
	r.p.ApplyConfig(cfg)

	r.p.SetSource(directURL)
	r.host.Fail(media.ErrorCodeNetwork)
	assert.Equal(t, PhaseError, r.p.Snapshot().Phase)
}

func TestCloseStopsEverything(t *testing.T) {
	r := newRig(t, rigOpts{library: true})
	r.p.SetSource(hlsURL)
	r.engines.Last().Fail(engine.ErrorTypeNetwork, true)
	require.Len(t, r.sched.Pending(), 1)

	r.p.Close()
	assert.Empty(t, r.sched.Pending())
	assert.Equal(t, 0, r.p.LiveSessions())
	assert.Zero(t, r.host.Listeners())

	r.p.SetSource(directURL)
	assert.Equal(t, 0, r.p.LiveSessions())
}

func TestCallbacksMayReenterPlayer(t *testing.T) {
	host := testutil.NewFakeHost(nil)
	var p *Player
	var seen []Phase
	p = New(host, nil,
		WithLogger(zerolog.Nop()),
		WithScheduler(schedAdapter{testutil.NewManualScheduler()}),
		WithCallbacks(Callbacks{
			OnStateChange: func(st State) {
				seen = append(seen, p.Snapshot().Phase)
				if st.Phase == PhaseReady {
					p.Play()
				}
			},
		}),
	)
	defer p.Close()

	p.SetSource(directURL)
	host.Ready(10)

	assert.Equal(t, PhasePlaying, p.Snapshot().Phase)
	assert.Contains(t, seen, PhasePlaying)
	assert.Equal(t, 1, host.Plays)
}

func TestAtMostOneSessionUnderConcurrentInput(t *testing.T) {
	r := newRig(t, rigOpts{library: true, nativeHLS: true})
	urls := []string{hlsURL, directURL, "", "https://cdn.example.com/b.m3u8"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch (i + j) % 6 {
				case 0:
					r.p.SetSource(urls[(i+j)%len(urls)])
				case 1:
					r.host.Ready(30)
				case 2:
					r.host.Fail(media.ErrorCodeNetwork)
				case 3:
					r.sched.FireNext()
				case 4:
					r.p.Retry()
				default:
					r.p.Play()
				}
				assert.LessOrEqual(t, r.p.LiveSessions(), 1)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.p.LiveSessions(), 1)
	assert.LessOrEqual(t, r.engines.Live(), 1)
}

func TestStateChangesAreReported(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.p.SetSource(directURL)
	r.host.Ready(5)
	r.p.Play()

	r.mu.Lock()
	defer r.mu.Unlock()
	var phases []Phase
	for _, st := range r.states {
		if len(phases) == 0 || phases[len(phases)-1] != st.Phase {
			phases = append(phases, st.Phase)
		}
	}
	assert.Equal(t, []Phase{PhaseLoading, PhaseReady, PhasePlaying}, phases)
}

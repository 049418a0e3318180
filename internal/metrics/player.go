// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes Prometheus instrumentation for the player.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	playbackModeNativeHLS  = "native_hls"
	playbackModeLibraryHLS = "library_hls"
	playbackModeNative     = "native"
	playbackModeUnknown    = "unknown"

	playbackOutcomeOK      = "ok"
	playbackOutcomeFailed  = "failed"
	playbackOutcomeAborted = "aborted"

	labelUnknown = "unknown"
)

var (
	playbackStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsplay_playback_start_total",
		Help: "Streaming session starts by playback mode",
	}, []string{"mode"})

	playbackTTFFSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hlsplay_playback_ttff_seconds",
		Help:    "Time from session start to the first canplay event (or failure)",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30},
	}, []string{"mode", "outcome"})

	playbackErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsplay_playback_error_total",
		Help: "Playback errors by category, mode and fatality",
	}, []string{"category", "mode", "fatal"})

	playbackRecoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsplay_playback_recovery_total",
		Help: "Recovery decisions taken by the player",
	}, []string{"action", "mode"})

	playbackCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsplay_playback_completed_total",
		Help: "Sessions that crossed the completion threshold",
	}, []string{"mode"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlsplay_sessions_active",
		Help: "Streaming sessions currently holding a media host",
	})
)

// IncPlaybackStart counts a session start.
func IncPlaybackStart(mode string) {
	playbackStartTotal.WithLabelValues(normalizePlaybackModeLabel(mode)).Inc()
}

// ObservePlaybackTTFF records time to first frame in seconds.
func ObservePlaybackTTFF(mode, outcome string, seconds float64) {
	playbackTTFFSeconds.WithLabelValues(
		normalizePlaybackModeLabel(mode),
		normalizePlaybackOutcomeLabel(outcome),
	).Observe(seconds)
}

// IncPlaybackError counts a classified playback error.
func IncPlaybackError(category, mode string, fatal bool) {
	playbackErrorTotal.WithLabelValues(
		normalizeCategoryLabel(category),
		normalizePlaybackModeLabel(mode),
		strconv.FormatBool(fatal),
	).Inc()
}

// IncPlaybackRecovery counts a recovery decision.
func IncPlaybackRecovery(action, mode string) {
	playbackRecoveryTotal.WithLabelValues(
		normalizeActionLabel(action),
		normalizePlaybackModeLabel(mode),
	).Inc()
}

// IncPlaybackCompleted counts a completion callback.
func IncPlaybackCompleted(mode string) {
	playbackCompletedTotal.WithLabelValues(normalizePlaybackModeLabel(mode)).Inc()
}

// SessionStarted and SessionStopped track live sessions.
func SessionStarted() { sessionsActive.Inc() }

func SessionStopped() { sessionsActive.Dec() }

func normalizePlaybackModeLabel(mode string) string {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case playbackModeNativeHLS, playbackModeLibraryHLS, playbackModeNative:
		return m
	default:
		return playbackModeUnknown
	}
}

func normalizePlaybackOutcomeLabel(outcome string) string {
	switch o := strings.ToLower(strings.TrimSpace(outcome)); o {
	case playbackOutcomeOK, playbackOutcomeFailed, playbackOutcomeAborted:
		return o
	default:
		return labelUnknown
	}
}

func normalizeCategoryLabel(category string) string {
	switch c := strings.ToLower(strings.TrimSpace(category)); c {
	case "network", "decode", "unsupported":
		return c
	default:
		return labelUnknown
	}
}

func normalizeActionLabel(action string) string {
	switch a := strings.ToLower(strings.TrimSpace(action)); a {
	case "ignore", "retry", "reinit_library", "fallback", "terminal", "manual_retry":
		return a
	default:
		return labelUnknown
	}
}

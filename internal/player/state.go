// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"github.com/ManuGH/hlsplay/internal/player/recovery"
	"github.com/ManuGH/hlsplay/internal/player/source"
	"github.com/ManuGH/hlsplay/internal/player/strategy"
)

// Phase is the state of the control surface.
type Phase string

const (
	PhaseIdle    Phase = "idle"    // no source
	PhaseLoading Phase = "loading" // session starting or retrying
	PhaseReady   Phase = "ready"   // metadata known, never played
	PhasePlaying Phase = "playing"
	PhasePaused  Phase = "paused"
	PhaseError   Phase = "error" // terminal until Retry or SetSource
)

// active reports whether media is attached and controllable.
func (p Phase) active() bool {
	return p == PhaseReady || p == PhasePlaying || p == PhasePaused
}

// State is the observable playback state.
type State struct {
	Phase    Phase              `json:"phase"`
	Source   source.MediaSource `json:"source"`
	Strategy strategy.Strategy  `json:"strategy"`

	IsPlaying     bool    `json:"is_playing"`
	CurrentTime   float64 `json:"current_time"`
	Duration      float64 `json:"duration"` // 0 while unknown
	DurationKnown bool    `json:"duration_known"`
	Volume        float64 `json:"volume"` // effective volume, 0 while muted
	IsMuted       bool    `json:"is_muted"`
	IsLoading     bool    `json:"is_loading"`

	Error      *recovery.ErrorInfo `json:"error,omitempty"`
	RetryCount int                 `json:"retry_count"`

	SessionID  string `json:"session_id,omitempty"`
	Generation uint64 `json:"generation"`
}

// Diagnostics is the support view of a player.
type Diagnostics struct {
	SourceURL     string              `json:"source_url"`
	SourceKind    source.Kind         `json:"source_kind"`
	Strategy      strategy.Strategy   `json:"strategy"`
	Phase         Phase               `json:"phase"`
	RetryCount    int                 `json:"retry_count"`
	DurationKnown bool                `json:"duration_known"`
	Duration      float64             `json:"duration"`
	SessionID     string              `json:"session_id,omitempty"`
	Generation    uint64              `json:"generation"`
	LastError     *recovery.ErrorInfo `json:"last_error,omitempty"`
	Abandoned     []strategy.Strategy `json:"abandoned_strategies,omitempty"`
	ReinitUsed    bool                `json:"library_reinit_used"`
	Capabilities  Capabilities        `json:"capabilities"`
	LiveSessions  int                 `json:"live_sessions"`
	Manifest      *ManifestSummary    `json:"manifest,omitempty"`

	// FallbackURL is the raw source for "open externally" affordances.
	FallbackURL string `json:"fallback_url,omitempty"`
}

// Capabilities mirrors strategy.Capabilities with JSON tags.
type Capabilities struct {
	LibraryAvailable bool `json:"library_available"`
	NativeHLS        bool `json:"native_hls"`
}

// ManifestSummary is what the streaming engine reported about the manifest.
type ManifestSummary struct {
	Live     bool `json:"live"`
	Variants int  `json:"variants"`
}

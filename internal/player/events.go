// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"github.com/ManuGH/hlsplay/internal/player/engine"
	"github.com/ManuGH/hlsplay/internal/player/media"
)

// event is one input of the state machine. Everything that changes player
// state arrives as an event through dispatch.
type event interface {
	isEvent()
}

type sourceChanged struct {
	url string
}

// mediaEvent, manifestParsed and engineError belong to the session started
// under gen and are dropped once gen is stale.
type mediaEvent struct {
	gen uint64
	ev  media.Event
}

type manifestParsed struct {
	gen  uint64
	info engine.ManifestInfo
}

type engineError struct {
	gen uint64
	ev  engine.ErrorEvent
}

type retryTimerFired struct {
	gen uint64
}

type commandKind string

const (
	cmdPlay       commandKind = "play"
	cmdPause      commandKind = "pause"
	cmdSeek       commandKind = "seek"
	cmdSetVolume  commandKind = "set_volume"
	cmdToggleMute commandKind = "toggle_mute"
	cmdRestart    commandKind = "restart"
	cmdRetry      commandKind = "retry"
	cmdClose      commandKind = "close"
)

type userCommand struct {
	kind  commandKind
	value float64
}

type configChanged struct {
	cfg Config
}

func (sourceChanged) isEvent()   {}
func (mediaEvent) isEvent()      {}
func (manifestParsed) isEvent()  {}
func (engineError) isEvent()     {}
func (retryTimerFired) isEvent() {}
func (userCommand) isEvent()     {}
func (configChanged) isEvent()   {}

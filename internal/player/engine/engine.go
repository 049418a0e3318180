// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine defines the contract of an adaptive streaming engine that
// loads an HLS manifest, fetches segments and feeds a media host.
package engine

import (
	"errors"

	"github.com/ManuGH/hlsplay/internal/player/media"
)

// ErrUnavailable is returned by factories that cannot build an engine in this runtime.
var ErrUnavailable = errors.New("engine: streaming engine unavailable")

// ErrorType is the coarse class of an engine error.
type ErrorType string

const (
	ErrorTypeNetwork ErrorType = "network"
	ErrorTypeMedia   ErrorType = "media"
	ErrorTypeOther   ErrorType = "other"
)

// ManifestInfo is reported once the manifest has been parsed.
type ManifestInfo struct {
	Duration float64 // NaN when unknown (live)
	Live     bool
	Variants int
}

// ErrorEvent is an engine failure. Fatal errors stop playback; non-fatal ones
// are recoverable inside the engine.
type ErrorEvent struct {
	Type    ErrorType
	Fatal   bool
	Details string
	Err     error
}

// Callbacks receive engine notifications. Either may be nil.
// Engines may invoke them from any goroutine.
type Callbacks struct {
	OnManifestParsed func(ManifestInfo)
	OnError          func(ErrorEvent)
}

// Engine is one streaming engine instance bound to one source.
type Engine interface {
	// Attach binds the engine to a media host.
	Attach(host media.Host) error
	// Load starts fetching the manifest at url.
	Load(url string) error
	// StartLoad resumes loading after a network hiccup.
	StartLoad()
	// RecoverMediaError resets the decoding pipeline after a media hiccup.
	RecoverMediaError()
	// Destroy releases every resource. Safe to call more than once.
	Destroy()
}

// Factory builds engines.
type Factory interface {
	// Available reports whether an engine can be constructed here.
	Available() bool
	New(cb Callbacks) (Engine, error)
}

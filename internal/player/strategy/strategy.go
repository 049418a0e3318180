// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package strategy picks how a classified source is turned into playable media.
package strategy

import (
	"errors"

	"github.com/ManuGH/hlsplay/internal/player/media"
	"github.com/ManuGH/hlsplay/internal/player/source"
)

// Strategy is the mechanism used to play a source.
type Strategy string

const (
	None       Strategy = ""
	NativeHLS  Strategy = "native_hls"  // host plays the manifest itself
	LibraryHLS Strategy = "library_hls" // streaming engine feeds the host
	Native     Strategy = "native"      // host plays a plain file
)

var (
	ErrNoSource    = errors.New("strategy: no source")
	ErrUnsupported = errors.New("strategy: no playback strategy supports source")
)

// Capabilities is what the runtime can do. It is a plain value so callers can
// simulate any environment.
type Capabilities struct {
	LibraryAvailable bool // a streaming engine can be constructed
	NativeHLS        bool // the host plays HLS manifests itself
}

// CanPlayTyper is the probing half of a media host.
type CanPlayTyper interface {
	CanPlayType(mimeType string) media.CanPlay
}

// Availability is the probing half of an engine factory.
type Availability interface {
	Available() bool
}

// ProbeCapabilities asks the host and the engine factory what they support.
// Either argument may be nil, meaning "not available".
func ProbeCapabilities(host CanPlayTyper, engines Availability) Capabilities {
	var caps Capabilities
	if engines != nil {
		caps.LibraryAvailable = engines.Available()
	}
	if host != nil {
		caps.NativeHLS = host.CanPlayType(source.MIMEAppleMPEGURL).Supported() ||
			host.CanPlayType(source.MIMEXMPEGURL).Supported()
	}
	return caps
}

// SelectInitial returns the preferred strategy for src.
// Direct files always play natively. HLS prefers the streaming engine, then
// native HLS support.
func SelectInitial(src source.MediaSource, caps Capabilities) (Strategy, error) {
	switch {
	case src.Empty():
		return None, ErrNoSource
	case src.Kind == source.KindDirect:
		return Native, nil
	case caps.LibraryAvailable:
		return LibraryHLS, nil
	case caps.NativeHLS:
		return NativeHLS, nil
	default:
		return None, ErrUnsupported
	}
}

// SelectFallback returns the strategy to switch to after current failed for src.
// The second result is false when no fallback exists.
func SelectFallback(current Strategy, src source.MediaSource, caps Capabilities) (Strategy, bool) {
	if !src.IsHLS() {
		return None, false
	}
	switch current {
	case LibraryHLS:
		if caps.NativeHLS {
			return NativeHLS, true
		}
	case NativeHLS:
		if caps.LibraryAvailable {
			return LibraryHLS, true
		}
	}
	return None, false
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media defines the contract of a media element host: the thing that
// actually renders audio/video and reports standard media events.
package media

import (
	"fmt"
	"math"
)

// EventKind names a media element event.
type EventKind string

const (
	EventLoadedMetadata EventKind = "loadedmetadata"
	EventCanPlay        EventKind = "canplay"
	EventTimeUpdate     EventKind = "timeupdate"
	EventPlay           EventKind = "play"
	EventPause          EventKind = "pause"
	EventEnded          EventKind = "ended"
	EventWaiting        EventKind = "waiting"
	EventError          EventKind = "error"
)

// AllEvents lists every event kind a session subscribes to.
var AllEvents = []EventKind{
	EventLoadedMetadata,
	EventCanPlay,
	EventTimeUpdate,
	EventPlay,
	EventPause,
	EventEnded,
	EventWaiting,
	EventError,
}

// ErrorCode mirrors the numeric MediaError codes of a media element.
type ErrorCode int

const (
	ErrorCodeNone            ErrorCode = 0
	ErrorCodeAborted         ErrorCode = 1
	ErrorCodeNetwork         ErrorCode = 2
	ErrorCodeDecode          ErrorCode = 3
	ErrorCodeSrcNotSupported ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeNone:
		return "none"
	case ErrorCodeAborted:
		return "aborted"
	case ErrorCodeNetwork:
		return "network"
	case ErrorCodeDecode:
		return "decode"
	case ErrorCodeSrcNotSupported:
		return "src_not_supported"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// Event is a single media element notification.
// Duration is NaN or +Inf while unknown, as on a real media element.
type Event struct {
	Kind        EventKind
	CurrentTime float64
	Duration    float64
	Code        ErrorCode // only for EventError
	Message     string
}

// DurationKnown reports whether the event carries a usable duration.
func (e Event) DurationKnown() bool {
	return KnownDuration(e.Duration)
}

// KnownDuration reports whether d is a finite, non-negative duration.
func KnownDuration(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d >= 0
}

// UnknownDuration is the value reported while the duration is not known.
func UnknownDuration() float64 { return math.NaN() }

// Listener receives media events.
type Listener func(Event)

// ListenerID identifies a registered listener for Off.
type ListenerID uint64

// CanPlay is the answer of a CanPlayType probe: "", "maybe" or "probably".
type CanPlay string

const (
	CanPlayNo       CanPlay = ""
	CanPlayMaybe    CanPlay = "maybe"
	CanPlayProbably CanPlay = "probably"
)

// Supported reports whether the answer is a yes of any strength.
func (c CanPlay) Supported() bool {
	return c == CanPlayMaybe || c == CanPlayProbably
}

// StreamInfo describes a stream a streaming engine attached to the host.
type StreamInfo struct {
	Duration float64 // NaN when unknown (live)
	Live     bool
}

// Host is the media element contract.
//
// Hosts may emit events synchronously from inside any method or later from
// their own goroutines. Listeners removed with Off never fire again.
type Host interface {
	// SetSource points the element at url and starts loading it natively.
	SetSource(url string) error
	// AttachStream binds a stream decoded by a streaming engine.
	AttachStream(info StreamInfo) error
	// Detach drops the current source or stream. No further media events are
	// emitted for it.
	Detach()

	Play() error
	Pause()
	Seek(seconds float64)
	SetVolume(v float64)
	SetMuted(muted bool)

	CanPlayType(mimeType string) CanPlay

	On(kind EventKind, fn Listener) ListenerID
	Off(id ListenerID)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recovery

import (
	"context"
	"errors"
	"net"

	"github.com/ManuGH/hlsplay/internal/player/engine"
	"github.com/ManuGH/hlsplay/internal/player/media"
)

// Category is the bucket a playback error falls into.
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryDecode      Category = "decode"
	CategoryUnsupported Category = "unsupported"
	CategoryUnknown     Category = "unknown"
)

// Error taxonomy. ErrorInfo unwraps to one of these.
var (
	ErrNetwork           = errors.New("network error")
	ErrDecode            = errors.New("decode error")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNoSource          = errors.New("no source")
	ErrUnknown           = errors.New("unknown playback error")
)

// ErrorInfo is the user-facing description of a playback failure.
type ErrorInfo struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`

	noSource bool
}

// NoSource is the error reported when playback is attempted without a source.
func NoSource() ErrorInfo {
	return ErrorInfo{Category: CategoryUnknown, Message: "No source", noSource: true}
}

func (e ErrorInfo) Error() string {
	if e.Message == "" {
		return string(e.Category)
	}
	return string(e.Category) + ": " + e.Message
}

func (e ErrorInfo) Unwrap() error {
	if e.noSource {
		return ErrNoSource
	}
	switch e.Category {
	case CategoryNetwork:
		return ErrNetwork
	case CategoryDecode:
		return ErrDecode
	case CategoryUnsupported:
		return ErrUnsupportedFormat
	default:
		return ErrUnknown
	}
}

// Origin says which layer raised a signal.
type Origin string

const (
	OriginMedia  Origin = "media"
	OriginEngine Origin = "engine"
	OriginStart  Origin = "start"
)

// Signal is the lowest-level error notification, before classification.
type Signal struct {
	Origin     Origin
	Fatal      bool
	MediaCode  media.ErrorCode
	EngineType engine.ErrorType
	Message    string
	Err        error
}

// FromMediaEvent converts a media element error event. Media element errors
// are fatal except for user aborts.
func FromMediaEvent(ev media.Event) Signal {
	return Signal{
		Origin:    OriginMedia,
		Fatal:     ev.Code != media.ErrorCodeAborted,
		MediaCode: ev.Code,
		Message:   ev.Message,
	}
}

// FromEngineEvent converts a streaming engine error.
func FromEngineEvent(ev engine.ErrorEvent) Signal {
	return Signal{
		Origin:     OriginEngine,
		Fatal:      ev.Fatal,
		EngineType: ev.Type,
		Message:    ev.Details,
		Err:        ev.Err,
	}
}

// FromStartError converts a failure to start a session. These are always fatal.
func FromStartError(err error) Signal {
	return Signal{Origin: OriginStart, Fatal: true, Err: err}
}

// Classify maps a signal to an ErrorInfo. Buckets are checked in priority
// order: network, decode, unsupported, unknown.
func Classify(sig Signal) ErrorInfo {
	cat := CategoryUnknown
	switch {
	case isNetwork(sig):
		cat = CategoryNetwork
	case isDecode(sig):
		cat = CategoryDecode
	case isUnsupported(sig):
		cat = CategoryUnsupported
	}
	return ErrorInfo{Category: cat, Message: message(sig, cat)}
}

func isNetwork(sig Signal) bool {
	if sig.MediaCode == media.ErrorCodeNetwork || sig.EngineType == engine.ErrorTypeNetwork {
		return true
	}
	if sig.Err == nil {
		return false
	}
	if errors.Is(sig.Err, ErrNetwork) || errors.Is(sig.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(sig.Err, &netErr)
}

func isDecode(sig Signal) bool {
	if sig.MediaCode == media.ErrorCodeDecode || sig.EngineType == engine.ErrorTypeMedia {
		return true
	}
	return sig.Err != nil && errors.Is(sig.Err, ErrDecode)
}

func isUnsupported(sig Signal) bool {
	if sig.MediaCode == media.ErrorCodeSrcNotSupported {
		return true
	}
	return sig.Err != nil && errors.Is(sig.Err, ErrUnsupportedFormat)
}

func message(sig Signal, cat Category) string {
	if sig.Message != "" {
		return sig.Message
	}
	if sig.Err != nil {
		return sig.Err.Error()
	}
	switch cat {
	case CategoryNetwork:
		return "The media could not be loaded because of a network problem."
	case CategoryDecode:
		return "The media could not be decoded."
	case CategoryUnsupported:
		return "This media format is not supported."
	default:
		return "Playback failed."
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recovery classifies playback errors and decides how to react to them.
package recovery

import (
	"time"

	"github.com/ManuGH/hlsplay/internal/player/strategy"
)

const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = 1000 * time.Millisecond
)

// Action is what the player should do about an error.
type Action string

const (
	ActionIgnore        Action = "ignore"         // non-fatal, engine recovers on its own
	ActionRetry         Action = "retry"          // restart the same strategy after Delay
	ActionReinitLibrary Action = "reinit_library" // one-shot switch from native HLS to the engine
	ActionFallback      Action = "fallback"       // switch to Next
	ActionTerminal      Action = "terminal"       // surface the error, wait for the user
)

// Decision is the output of Policy.Decide.
type Decision struct {
	Action Action
	Delay  time.Duration
	Next   strategy.Strategy
}

// Input is everything the policy needs to decide. The caller computes the
// fallback candidate and whether the one-shot library re-init is still open.
type Input struct {
	Error      ErrorInfo
	Fatal      bool
	RetryCount int
	Strategy   strategy.Strategy

	// Fallback is the next strategy, or strategy.None when there is none.
	Fallback strategy.Strategy
	// LibraryReinit is true while the native HLS to engine re-init has not
	// been used for this source and an engine is available.
	LibraryReinit bool
}

// Policy is the bounded retry and fallback policy.
type Policy struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultPolicy returns the policy with its stock constants.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
}

// Decide is a pure function of its input.
func (p Policy) Decide(in Input) Decision {
	if !in.Fatal {
		return Decision{Action: ActionIgnore}
	}

	switch in.Error.Category {
	case CategoryUnsupported:
		return Decision{Action: ActionTerminal}
	case CategoryDecode:
		// The host accepted the manifest but cannot decode the segments.
		if in.Strategy == strategy.NativeHLS && in.LibraryReinit {
			return Decision{Action: ActionReinitLibrary, Next: strategy.LibraryHLS}
		}
		fallthrough
	case CategoryNetwork:
		if in.RetryCount < p.maxRetries() {
			return Decision{Action: ActionRetry, Delay: p.retryDelay()}
		}
	}

	if in.Fallback != strategy.None {
		return Decision{Action: ActionFallback, Next: in.Fallback}
	}
	return Decision{Action: ActionTerminal}
}

func (p Policy) maxRetries() int {
	if p.MaxRetries < 0 {
		return 0
	}
	return p.MaxRetries
}

func (p Policy) retryDelay() time.Duration {
	if p.RetryDelay < 0 {
		return 0
	}
	return p.RetryDelay
}

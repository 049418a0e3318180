// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package testutil

import (
	"sync"
	"time"
)

// ManualScheduler queues AfterFunc callbacks until the test fires them.
type ManualScheduler struct {
	mu     sync.Mutex
	timers []*ManualTimer
}

// ManualTimer is a timer created by ManualScheduler.
type ManualTimer struct {
	Delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
	s       *ManualScheduler
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc records fn to be run by Fire.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) *ManualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &ManualTimer{Delay: d, fn: fn, s: s}
	s.timers = append(s.timers, t)
	return t
}

// Stop cancels the timer. It reports whether the call prevented the run.
func (t *ManualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending returns the timers that are neither stopped nor fired.
func (s *ManualScheduler) Pending() []*ManualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ManualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// FireNext runs the oldest pending timer. It reports false when none is pending.
func (s *ManualScheduler) FireNext() bool {
	s.mu.Lock()
	var next *ManualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	s.mu.Unlock()

	if next == nil {
		return false
	}
	next.fn()
	return true
}

// FireStopped runs a timer even though it was stopped, simulating a callback
// that was already in flight when Stop was called.
func (t *ManualTimer) FireStopped() {
	t.fn()
}

// ManualClock is a settable clock.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

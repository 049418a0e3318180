// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package testutil holds in-memory doubles for the player's runtime contracts.
package testutil

import (
	"sort"
	"sync"

	"github.com/ManuGH/hlsplay/internal/player/media"
)

// FakeHost is a media.Host that records calls and emits events only when told to.
type FakeHost struct {
	mu        sync.Mutex
	nextID    media.ListenerID
	listeners map[media.ListenerID]fakeListener

	CanPlay      map[string]media.CanPlay
	SetSourceErr error
	PlayErr      error

	Sources  []string
	Streams  []media.StreamInfo
	Detaches int
	Plays    int
	Pauses   int
	Seeks    []float64
	Volume   float64
	Muted    bool
	Volumes  []float64
}

type fakeListener struct {
	kind media.EventKind
	fn   media.Listener
}

// NewFakeHost returns a host that answers CanPlayType from canPlay.
func NewFakeHost(canPlay map[string]media.CanPlay) *FakeHost {
	if canPlay == nil {
		canPlay = map[string]media.CanPlay{}
	}
	return &FakeHost{
		listeners: map[media.ListenerID]fakeListener{},
		CanPlay:   canPlay,
		Volume:    1,
	}
}

func (h *FakeHost) SetSource(url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Sources = append(h.Sources, url)
	return h.SetSourceErr
}

func (h *FakeHost) AttachStream(info media.StreamInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Streams = append(h.Streams, info)
	return nil
}

func (h *FakeHost) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Detaches++
}

func (h *FakeHost) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Plays++
	return h.PlayErr
}

func (h *FakeHost) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Pauses++
}

func (h *FakeHost) Seek(seconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Seeks = append(h.Seeks, seconds)
}

func (h *FakeHost) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Volume = v
	h.Volumes = append(h.Volumes, v)
}

func (h *FakeHost) SetMuted(muted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Muted = muted
}

func (h *FakeHost) CanPlayType(mimeType string) media.CanPlay {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.CanPlay[mimeType]
}

func (h *FakeHost) On(kind media.EventKind, fn media.Listener) media.ListenerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.listeners[h.nextID] = fakeListener{kind: kind, fn: fn}
	return h.nextID
}

func (h *FakeHost) Off(id media.ListenerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
}

// Listeners returns the number of registered listeners.
func (h *FakeHost) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// LastSource returns the most recent SetSource argument.
func (h *FakeHost) LastSource() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Sources) == 0 {
		return ""
	}
	return h.Sources[len(h.Sources)-1]
}

// Emit delivers ev synchronously to every listener of its kind, in
// registration order.
func (h *FakeHost) Emit(ev media.Event) {
	h.mu.Lock()
	ids := make([]media.ListenerID, 0, len(h.listeners))
	for id, l := range h.listeners {
		if l.kind == ev.Kind {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]media.Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.listeners[id].fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Ready emits loadedmetadata and canplay for a source of the given duration.
func (h *FakeHost) Ready(duration float64) {
	h.Emit(media.Event{Kind: media.EventLoadedMetadata, Duration: duration})
	h.Emit(media.Event{Kind: media.EventCanPlay, Duration: duration})
}

// Fail emits a media error event with code.
func (h *FakeHost) Fail(code media.ErrorCode) {
	h.Emit(media.Event{Kind: media.EventError, Code: code, Duration: media.UnknownDuration()})
}

// TimeUpdate emits a timeupdate at position t.
func (h *FakeHost) TimeUpdate(t, duration float64) {
	h.Emit(media.Event{Kind: media.EventTimeUpdate, CurrentTime: t, Duration: duration})
}

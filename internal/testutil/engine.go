// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package testutil

import (
	"errors"
	"sync"

	"github.com/ManuGH/hlsplay/internal/player/engine"
	"github.com/ManuGH/hlsplay/internal/player/media"
)

// FakeEngineFactory builds FakeEngines and remembers all of them.
type FakeEngineFactory struct {
	mu        sync.Mutex
	available bool
	engines   []*FakeEngine

	NewErr  error
	LoadErr error
}

// NewFakeEngineFactory returns a factory reporting the given availability.
func NewFakeEngineFactory(available bool) *FakeEngineFactory {
	return &FakeEngineFactory{available: available}
}

func (f *FakeEngineFactory) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *FakeEngineFactory) New(cb engine.Callbacks) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return nil, engine.ErrUnavailable
	}
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	e := &FakeEngine{cb: cb, loadErr: f.LoadErr}
	f.engines = append(f.engines, e)
	return e, nil
}

// Engines returns every engine built so far.
func (f *FakeEngineFactory) Engines() []*FakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeEngine, len(f.engines))
	copy(out, f.engines)
	return out
}

// Last returns the most recently built engine or nil.
func (f *FakeEngineFactory) Last() *FakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

// Live counts engines that were not destroyed.
func (f *FakeEngineFactory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.engines {
		if !e.Destroyed() {
			n++
		}
	}
	return n
}

// FakeEngine is an engine.Engine driven by the test.
type FakeEngine struct {
	mu      sync.Mutex
	cb      engine.Callbacks
	loadErr error

	Host            media.Host
	URL             string
	StartLoads      int
	MediaRecoveries int
	destroyCount    int
}

var errNotAttached = errors.New("fake engine: not attached")

func (e *FakeEngine) Attach(host media.Host) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Host = host
	return nil
}

func (e *FakeEngine) Load(url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Host == nil {
		return errNotAttached
	}
	e.URL = url
	return e.loadErr
}

func (e *FakeEngine) StartLoad() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartLoads++
}

func (e *FakeEngine) RecoverMediaError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.MediaRecoveries++
}

func (e *FakeEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyCount++
}

// Destroyed reports whether Destroy has been called.
func (e *FakeEngine) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyCount > 0
}

// DestroyCount reports how often Destroy has been called.
func (e *FakeEngine) DestroyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyCount
}

// ParseManifest raises the manifest-parsed callback and attaches a stream to
// the host, as a real engine would once tracks are known.
func (e *FakeEngine) ParseManifest(info engine.ManifestInfo) {
	e.mu.Lock()
	cb := e.cb
	host := e.Host
	e.mu.Unlock()
	if cb.OnManifestParsed != nil {
		cb.OnManifestParsed(info)
	}
	if host != nil {
		_ = host.AttachStream(media.StreamInfo{Duration: info.Duration, Live: info.Live})
	}
}

// Fail raises an engine error.
func (e *FakeEngine) Fail(typ engine.ErrorType, fatal bool) {
	e.mu.Lock()
	cb := e.cb
	e.mu.Unlock()
	if cb.OnError != nil {
		cb.OnError(engine.ErrorEvent{Type: typ, Fatal: fatal, Details: "fake " + string(typ) + " error"})
	}
}

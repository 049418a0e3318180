// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gohls

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/hlsplay/internal/manifest"
	"github.com/ManuGH/hlsplay/internal/player/engine"
	"github.com/ManuGH/hlsplay/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

const master = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=500000
a/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=900000
b/index.m3u8
`

const vod = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXTINF:10.000,
s0.ts
#EXTINF:2.500,
s1.ts
#EXT-X-ENDLIST
`

type recorder struct {
	mu      sync.Mutex
	parsed  chan engine.ManifestInfo
	errs    chan engine.ErrorEvent
	parsedN int
	errorsN int
}

func newRecorder() *recorder {
	return &recorder{
		parsed: make(chan engine.ManifestInfo, 4),
		errs:   make(chan engine.ErrorEvent, 16),
	}
}

func (r *recorder) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnManifestParsed: func(info engine.ManifestInfo) {
			r.mu.Lock()
			r.parsedN++
			r.mu.Unlock()
			r.parsed <- info
		},
		OnError: func(ev engine.ErrorEvent) {
			r.mu.Lock()
			r.errorsN++
			r.mu.Unlock()
			select {
			case r.errs <- ev:
			default:
			}
		},
	}
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parsedN, r.errorsN
}

func newTestFactory(t *testing.T, srv *httptest.Server) *Factory {
	t.Helper()
	return NewFactory(Config{Enabled: true, HTTPClient: srv.Client(), Logger: zerolog.Nop()})
}

func playlistServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFactoryAvailability(t *testing.T) {
	f := NewFactory(Config{Enabled: false})
	assert.False(t, f.Available())
	_, err := f.New(engine.Callbacks{})
	assert.ErrorIs(t, err, engine.ErrUnavailable)

	var nilFactory *Factory
	assert.False(t, nilFactory.Available())

	assert.True(t, NewFactory(Config{Enabled: true}).Available())
}

func TestLoadPreconditions(t *testing.T) {
	srv := playlistServer(t, map[string]string{"/vod.m3u8": vod})
	f := newTestFactory(t, srv)

	eng, err := f.New(engine.Callbacks{})
	require.NoError(t, err)
	assert.ErrorIs(t, eng.Load(srv.URL+"/vod.m3u8"), ErrNotAttached)

	require.NoError(t, eng.Attach(testutil.NewFakeHost(nil)))
	require.NoError(t, eng.Load(srv.URL+"/vod.m3u8"))
	assert.ErrorIs(t, eng.Load(srv.URL+"/vod.m3u8"), ErrLoaded)

	eng.Destroy()
	eng.Destroy()
	assert.ErrorIs(t, eng.Attach(testutil.NewFakeHost(nil)), ErrDestroyed)
	f.Wait()
}

func TestManifestParsed(t *testing.T) {
	srv := playlistServer(t, map[string]string{
		"/master.m3u8":  master,
		"/a/index.m3u8": vod,
	})
	f := newTestFactory(t, srv)
	rec := newRecorder()

	eng, err := f.New(rec.callbacks())
	require.NoError(t, err)
	require.NoError(t, eng.Attach(testutil.NewFakeHost(nil)))
	require.NoError(t, eng.Load(srv.URL+"/master.m3u8"))

	select {
	case info := <-rec.parsed:
		assert.InDelta(t, 12.5, info.Duration, 1e-9)
		assert.False(t, info.Live)
		assert.Equal(t, 2, info.Variants)
	case <-time.After(5 * time.Second):
		t.Fatal("manifest was not parsed")
	}

	eng.Destroy()
	f.Wait()
}

func TestLoadFailuresAreFatal(t *testing.T) {
	srv := playlistServer(t, map[string]string{"/broken.m3u8": "this is not a playlist"})

	tests := []struct {
		name string
		path string
		want engine.ErrorType
	}{
		{name: "missing manifest", path: "/missing.m3u8", want: engine.ErrorTypeNetwork},
		{name: "unparseable manifest", path: "/broken.m3u8", want: engine.ErrorTypeMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFactory(t, srv)
			rec := newRecorder()
			eng, err := f.New(rec.callbacks())
			require.NoError(t, err)
			require.NoError(t, eng.Attach(testutil.NewFakeHost(nil)))
			require.NoError(t, eng.Load(srv.URL+tt.path))

			select {
			case ev := <-rec.errs:
				assert.True(t, ev.Fatal)
				assert.Equal(t, tt.want, ev.Type)
				assert.Error(t, ev.Err)
			case <-time.After(5 * time.Second):
				t.Fatal("no error reported")
			}
			parsed, _ := rec.counts()
			assert.Zero(t, parsed)

			eng.Destroy()
			f.Wait()
		})
	}
}

func TestDestroyDuringLoadSuppressesCallbacks(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newTestFactory(t, srv)
	rec := newRecorder()
	eng, err := f.New(rec.callbacks())
	require.NoError(t, err)
	require.NoError(t, eng.Attach(testutil.NewFakeHost(nil)))
	require.NoError(t, eng.Load(srv.URL+"/slow.m3u8"))

	<-started
	eng.Destroy()
	f.Wait()

	parsed, errs := rec.counts()
	assert.Zero(t, parsed)
	assert.Zero(t, errs)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want engine.ErrorType
	}{
		{name: "http status", err: &manifest.StatusError{Code: 503}, want: engine.ErrorTypeNetwork},
		{name: "transport", err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}, want: engine.ErrorTypeNetwork},
		{name: "deadline", err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), want: engine.ErrorTypeNetwork},
		{name: "parse", err: fmt.Errorf("%w: bad tag", manifest.ErrParse), want: engine.ErrorTypeMedia},
		{name: "too large", err: manifest.ErrTooLarge, want: engine.ErrorTypeMedia},
		{name: "client status", err: errors.New("bad status code: 404"), want: engine.ErrorTypeNetwork},
		{name: "demux", err: errors.New("unable to decode segment"), want: engine.ErrorTypeMedia},
		{name: "nil", err: nil, want: engine.ErrorTypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

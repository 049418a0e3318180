// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multivariant = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,CODECS="avc1.64001f,mp4a.40.2"
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2400000,CODECS="avc1.64001f,mp4a.40.2"
high/index.m3u8
`

const vod = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:6.000,
seg0.ts
#EXTINF:6.000,
seg1.ts
#EXTINF:4.500,
seg2.ts
#EXT-X-ENDLIST
`

const live = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:120
#EXTINF:4.000,
seg120.ts
#EXTINF:4.000,
seg121.ts
`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/master.m3u8", serve(multivariant))
	mux.HandleFunc("/low/index.m3u8", serve(vod))
	mux.HandleFunc("/vod.m3u8", serve(vod))
	mux.HandleFunc("/live.m3u8", serve(live))
	mux.HandleFunc("/garbage.m3u8", serve("<html>not a playlist</html>"))
	mux.HandleFunc("/huge.m3u8", serve(vod+strings.Repeat("#", 2048)))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProbe(t *testing.T) {
	srv := newServer(t)
	p := Prober{Client: srv.Client()}

	t.Run("media playlist", func(t *testing.T) {
		info, err := p.Probe(context.Background(), srv.URL+"/vod.m3u8")
		require.NoError(t, err)
		assert.False(t, info.Live)
		assert.Equal(t, 1, info.Variants)
		assert.Equal(t, 3, info.Segments)
		assert.Equal(t, 16500*time.Millisecond, info.Duration)
		assert.InDelta(t, 16.5, info.Seconds(), 1e-9)
		assert.Equal(t, 6*time.Second, info.TargetDuration)
	})

	t.Run("multivariant follows first variant", func(t *testing.T) {
		info, err := p.Probe(context.Background(), srv.URL+"/master.m3u8")
		require.NoError(t, err)
		assert.Equal(t, 2, info.Variants)
		assert.Equal(t, srv.URL+"/low/index.m3u8", info.MediaURL)
		assert.Equal(t, 16500*time.Millisecond, info.Duration)
	})

	t.Run("live has no duration", func(t *testing.T) {
		info, err := p.Probe(context.Background(), srv.URL+"/live.m3u8")
		require.NoError(t, err)
		assert.True(t, info.Live)
		assert.Zero(t, info.Duration)
		assert.Equal(t, 2, info.Segments)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := p.Probe(context.Background(), srv.URL+"/missing.m3u8")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.Code)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := p.Probe(context.Background(), srv.URL+"/garbage.m3u8")
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("size limit", func(t *testing.T) {
		small := Prober{Client: srv.Client(), MaxBytes: 256}
		_, err := small.Probe(context.Background(), srv.URL+"/huge.m3u8")
		assert.ErrorIs(t, err, ErrTooLarge)
	})
}

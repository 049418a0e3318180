// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/hlsplay/internal/config"
	"github.com/ManuGH/hlsplay/internal/player"
	"github.com/ManuGH/hlsplay/internal/player/recovery"
	"github.com/ManuGH/hlsplay/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/clip.mp3", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("X-Content-Duration", "0.2")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0xff})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fastHost(t *testing.T) {
	t.Helper()
	t.Setenv("HLSPLAY_HOST_TIME_UPDATE_INTERVAL", "20ms")
	t.Setenv("HLSPLAY_PLAYER_RETRY_DELAY", "10ms")
	t.Setenv("HLSPLAY_LOG_LEVEL", "error")
}

func TestPlayerConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Player.RetryLimit = 4
	cfg.Player.RetryDelay = 3 * time.Second
	cfg.Player.CompletionThreshold = 0.9

	got := playerConfig(cfg)
	assert.Equal(t, player.Config{
		Policy:              recovery.Policy{MaxRetries: 4, RetryDelay: 3 * time.Second},
		CompletionThreshold: 0.9,
		DefaultUnmuteVolume: config.DefaultUnmuteVolume,
		InitialVolume:       config.DefaultInitialVolume,
	}, got)
}

func TestRun_PlaysToCompletionAndWritesReport(t *testing.T) {
	fastHost(t)
	srv := mediaServer(t)
	reportPath := filepath.Join(t.TempDir(), "diag.json")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	outcome, err := run(ctx, options{
		Source:         srv.URL + "/clip.mp3",
		Listen:         config.ListenOff,
		ExitOnComplete: true,
		ReportPath:     reportPath,
		Version:        "test",
	})
	require.NoError(t, err)
	assert.Equal(t, report.OutcomeCompleted, outcome)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var r report.Report
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, report.OutcomeCompleted, r.Outcome)
	assert.Equal(t, "native", string(r.Diagnostics.Strategy))
	assert.Equal(t, srv.URL+"/clip.mp3", r.Diagnostics.SourceURL)
}

func TestRun_MissingSourceEndsInError(t *testing.T) {
	fastHost(t)
	srv := mediaServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	outcome, err := run(ctx, options{
		Source:         srv.URL + "/missing.mp3",
		Listen:         config.ListenOff,
		ExitOnComplete: true,
		Version:        "test",
	})
	require.NoError(t, err)
	assert.Equal(t, report.OutcomeError, outcome)
}

func TestRun_ServesAPIUntilCancelled(t *testing.T) {
	fastHost(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	done := make(chan report.Outcome, 1)
	go func() {
		outcome, err := run(ctx, options{
			Listen:   "127.0.0.1:0",
			Version:  "test",
			onListen: func(addr string) { addrCh <- addr },
		})
		assert.NoError(t, err)
		done <- outcome
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("API did not start")
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/api/v1/player")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	assert.Equal(t, "idle", st["phase"])

	cancel()
	select {
	case outcome := <-done:
		assert.Equal(t, report.OutcomeInterrupted, outcome)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_RejectsUnfetchableSource(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"relative path", "clips/a.mp3"},
		{"file scheme", "file:///tmp/a.mp3"},
		{"no host", "https:///a.m3u8"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(context.Background(), options{Source: tc.source, Listen: config.ListenOff})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid source")
		})
	}
	assert.NoError(t, checkSource(""))
	assert.NoError(t, checkSource("https://cdn.example.com/live/index.m3u8"))
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HLSPLAY_PLAYER_COMPLETION_THRESHOLD", "2")
	_, err := run(context.Background(), options{Listen: config.ListenOff})
	require.Error(t, err)
}

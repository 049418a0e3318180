// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(name string, st Status) Checker {
	return CheckerFunc(name, func(context.Context) CheckResult { return CheckResult{Status: st} })
}

func TestManager_Aggregation(t *testing.T) {
	tests := []struct {
		name      string
		checkers  []Checker
		want      Status
		wantReady bool
	}{
		{"no_checkers", nil, StatusHealthy, true},
		{"all_healthy", []Checker{fixed("a", StatusHealthy), fixed("b", StatusHealthy)}, StatusHealthy, true},
		{"one_degraded", []Checker{fixed("a", StatusHealthy), fixed("b", StatusDegraded)}, StatusDegraded, true},
		{"unhealthy_wins", []Checker{fixed("a", StatusUnhealthy), fixed("b", StatusDegraded)}, StatusUnhealthy, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager("v1")
			for _, c := range tc.checkers {
				m.RegisterChecker(c)
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tc.want, resp.Status)
			assert.Equal(t, tc.wantReady, resp.Ready)
			assert.Len(t, resp.Checks, len(tc.checkers))
		})
	}
}

func TestManager_HealthSkipsChecksUnlessVerbose(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(fixed("player", StatusUnhealthy))

	quiet := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, quiet.Status)
	assert.Nil(t, quiet.Checks)

	verbose := m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, verbose.Status)
	assert.Contains(t, verbose.Checks, "player")
}

func TestServeProbes(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(fixed("player", StatusUnhealthy))

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "liveness never fails")

	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, "v1", resp.Version)
}

func TestFileChecker(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log_level: info\n"), 0o600))

	ctx := context.Background()
	assert.Equal(t, StatusHealthy, NewFileChecker("cfg", "").Check(ctx).Status)
	assert.Equal(t, StatusHealthy, NewFileChecker("cfg", file).Check(ctx).Status)
	assert.Equal(t, StatusDegraded, NewFileChecker("cfg", filepath.Join(dir, "gone.yaml")).Check(ctx).Status)
	assert.Equal(t, StatusDegraded, NewFileChecker("cfg", dir).Check(ctx).Status)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/hlsplay/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDebounce collapses bursts of file events into one reload.
const DefaultReloadDebounce = 500 * time.Millisecond

// Holder holds configuration with atomic reloading capability.
// Readers always see a complete, validated AppConfig.
type Holder struct {
	mu       sync.RWMutex
	current  AppConfig
	epoch    uint64
	loader   *Loader
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger

	reloadMu        sync.RWMutex
	reloadListeners []chan<- AppConfig
}

// NewHolder creates a holder seeded with an already loaded config.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current:  Clone(initial),
		epoch:    1,
		loader:   loader,
		debounce: DefaultReloadDebounce,
		logger:   xglog.WithComponent("config"),
	}
}

// Get returns the current configuration (thread-safe read).
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Clone(h.current)
}

// Epoch increases by one on every successful reload.
func (h *Holder) Epoch() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.epoch
}

// Reload reloads configuration from file and validates it.
// On failure the previous configuration stays in effect.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.epoch++
	epoch := h.epoch
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().
		Str("event", "config.reload_success").
		Uint64("epoch", epoch).
		Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher starts watching the config file for changes.
// Without a config file this is a no-op (config comes from ENV only).
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	h.mu.Lock()
	h.watcher = watcher
	h.mu.Unlock()

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", path).
		Msg("watching config file for changes")

	go h.watchLoop(ctx, watcher)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Write and Create cover in-place edits and editors that rename over the file.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().
				Str("event", "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(h.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().
						Err(err).
						Str("event", "config.auto_reload_failed").
						Msg("automatic config reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running).
func (h *Holder) Stop() {
	h.mu.Lock()
	w := h.watcher
	h.watcher = nil
	h.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// Sends never block; a full channel misses that update.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *Holder) notifyListeners(newCfg AppConfig) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- Clone(newCfg):
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

func (h *Holder) logChanges(old, newCfg AppConfig) {
	if old.Player.RetryLimit != newCfg.Player.RetryLimit {
		h.logger.Info().
			Int("old", old.Player.RetryLimit).
			Int("new", newCfg.Player.RetryLimit).
			Msg("config changed: player.retry_limit")
	}
	if old.Player.RetryDelay != newCfg.Player.RetryDelay {
		h.logger.Info().
			Dur("old", old.Player.RetryDelay).
			Dur("new", newCfg.Player.RetryDelay).
			Msg("config changed: player.retry_delay")
	}
	if old.Player.CompletionThreshold != newCfg.Player.CompletionThreshold {
		h.logger.Info().
			Float64("old", old.Player.CompletionThreshold).
			Float64("new", newCfg.Player.CompletionThreshold).
			Msg("config changed: player.completion_threshold")
	}
	if old.Player.DefaultUnmuteVolume != newCfg.Player.DefaultUnmuteVolume {
		h.logger.Info().
			Float64("old", old.Player.DefaultUnmuteVolume).
			Float64("new", newCfg.Player.DefaultUnmuteVolume).
			Msg("config changed: player.default_unmute_volume")
	}
	if old.Engine != newCfg.Engine {
		h.logger.Info().
			Bool("enabled", newCfg.Engine.Enabled).
			Dur("http_timeout", newCfg.Engine.HTTPTimeout).
			Msg("config changed: engine (applies to new players only)")
	}
	if !slices.Equal(old.Host.NativeMIMETypes, newCfg.Host.NativeMIMETypes) {
		h.logger.Info().
			Strs("new", newCfg.Host.NativeMIMETypes).
			Msg("config changed: host.native_mime_types (applies to new players only)")
	}
	if old.Telemetry.Endpoint != newCfg.Telemetry.Endpoint {
		h.logger.Info().
			Str("old", maskURL(old.Telemetry.Endpoint)).
			Str("new", maskURL(newCfg.Telemetry.Endpoint)).
			Msg("config changed: telemetry.endpoint")
	}
	if old.LogLevel != newCfg.LogLevel {
		h.logger.Info().
			Str("old", old.LogLevel).
			Str("new", newCfg.LogLevel).
			Msg("config changed: log_level")
	}
}

// maskURL drops credentials from an endpoint before it is logged.
func maskURL(rawURL string) string {
	if rawURL == "" || !strings.Contains(rawURL, "://") {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "***redacted***"
	}
	hadUser := u.User != nil
	u.User = nil
	u.RawQuery = ""
	masked := u.String()
	if hadUser {
		prefix := u.Scheme + "://"
		masked = prefix + "***@" + strings.TrimPrefix(masked, prefix)
	}
	return masked
}

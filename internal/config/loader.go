// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // env keys the loader looked at
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, possibly empty.
func (l *Loader) Path() string {
	return l.configPath
}

func (l *Loader) key(name string) string {
	key := EnvPrefix + name
	l.ConsumedEnvKeys[key] = struct{}{}
	return key
}

// Load loads configuration with precedence: ENV > File > Defaults,
// then validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields are rejected.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFileConfig(dst *AppConfig, src *FileConfig) error {
	var err error
	p := src.Player
	if p.RetryLimit != nil {
		dst.Player.RetryLimit = *p.RetryLimit
	}
	if dst.Player.RetryDelay, err = fileDuration("player.retry_delay", p.RetryDelay, dst.Player.RetryDelay); err != nil {
		return err
	}
	if p.CompletionThreshold != nil {
		dst.Player.CompletionThreshold = *p.CompletionThreshold
	}
	if p.DefaultUnmuteVolume != nil {
		dst.Player.DefaultUnmuteVolume = *p.DefaultUnmuteVolume
	}
	if p.InitialVolume != nil {
		dst.Player.InitialVolume = *p.InitialVolume
	}

	if src.Engine.Enabled != nil {
		dst.Engine.Enabled = *src.Engine.Enabled
	}
	if dst.Engine.HTTPTimeout, err = fileDuration("engine.http_timeout", src.Engine.HTTPTimeout, dst.Engine.HTTPTimeout); err != nil {
		return err
	}

	if len(src.Host.NativeMIMETypes) > 0 {
		dst.Host.NativeMIMETypes = append([]string(nil), src.Host.NativeMIMETypes...)
	}
	if dst.Host.TimeUpdateInterval, err = fileDuration("host.time_update_interval", src.Host.TimeUpdateInterval, dst.Host.TimeUpdateInterval); err != nil {
		return err
	}

	if src.API.ListenAddr != "" {
		dst.API.ListenAddr = src.API.ListenAddr
	}
	if src.API.RateLimit != nil {
		dst.API.RateLimit = *src.API.RateLimit
	}
	if src.API.MaxConns != nil {
		dst.API.MaxConns = *src.API.MaxConns
	}

	t := src.Telemetry
	if t.Enabled != nil {
		dst.Telemetry.Enabled = *t.Enabled
	}
	if t.ExporterType != "" {
		dst.Telemetry.ExporterType = t.ExporterType
	}
	if t.Endpoint != "" {
		dst.Telemetry.Endpoint = t.Endpoint
	}
	if t.SamplingRate != nil {
		dst.Telemetry.SamplingRate = *t.SamplingRate
	}
	if t.Environment != "" {
		dst.Telemetry.Environment = t.Environment
	}

	if src.ReportPath != "" {
		dst.ReportPath = src.ReportPath
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogService != "" {
		dst.LogService = src.LogService
	}
	return nil
}

func fileDuration(field, raw string, current time.Duration) (time.Duration, error) {
	if raw == "" {
		return current, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return current, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	return d, nil
}

// mergeEnvConfig applies HLSPLAY_* variables on top of cfg.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.Player.RetryLimit = ParseInt(l.key("PLAYER_RETRY_LIMIT"), cfg.Player.RetryLimit)
	cfg.Player.RetryDelay = ParseDuration(l.key("PLAYER_RETRY_DELAY"), cfg.Player.RetryDelay)
	cfg.Player.CompletionThreshold = ParseFloat(l.key("PLAYER_COMPLETION_THRESHOLD"), cfg.Player.CompletionThreshold)
	cfg.Player.DefaultUnmuteVolume = ParseFloat(l.key("PLAYER_DEFAULT_UNMUTE_VOLUME"), cfg.Player.DefaultUnmuteVolume)
	cfg.Player.InitialVolume = ParseFloat(l.key("PLAYER_INITIAL_VOLUME"), cfg.Player.InitialVolume)

	cfg.Engine.Enabled = ParseBool(l.key("ENGINE_ENABLED"), cfg.Engine.Enabled)
	cfg.Engine.HTTPTimeout = ParseDuration(l.key("ENGINE_HTTP_TIMEOUT"), cfg.Engine.HTTPTimeout)

	cfg.Host.NativeMIMETypes = ParseStringList(l.key("HOST_NATIVE_MIME_TYPES"), cfg.Host.NativeMIMETypes)
	cfg.Host.TimeUpdateInterval = ParseDuration(l.key("HOST_TIME_UPDATE_INTERVAL"), cfg.Host.TimeUpdateInterval)

	cfg.API.ListenAddr = ParseString(l.key("API_LISTEN_ADDR"), cfg.API.ListenAddr)
	cfg.API.RateLimit = ParseInt(l.key("API_RATE_LIMIT"), cfg.API.RateLimit)
	cfg.API.MaxConns = ParseInt(l.key("API_MAX_CONNS"), cfg.API.MaxConns)

	cfg.Telemetry.Enabled = ParseBool(l.key("TELEMETRY_ENABLED"), cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString(l.key("TELEMETRY_EXPORTER"), cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString(l.key("TELEMETRY_ENDPOINT"), cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(l.key("TELEMETRY_SAMPLING_RATE"), cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = ParseString(l.key("TELEMETRY_ENVIRONMENT"), cfg.Telemetry.Environment)

	cfg.ReportPath = ParseString(l.key("REPORT_PATH"), cfg.ReportPath)
	cfg.LogLevel = ParseString(l.key("LOG_LEVEL"), cfg.LogLevel)
	cfg.LogService = ParseString(l.key("LOG_SERVICE"), cfg.LogService)
}

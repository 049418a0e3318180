// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads hlsplay configuration with precedence
// ENV > YAML file > defaults.
package config

import (
	"time"
)

// Defaults
const (
	DefaultRetryLimit          = 2
	DefaultRetryDelay          = time.Second
	DefaultCompletionThreshold = 0.95
	DefaultUnmuteVolume        = 0.5
	DefaultInitialVolume       = 1.0
	DefaultHTTPTimeout         = 10 * time.Second
	DefaultTimeUpdateInterval  = 250 * time.Millisecond
	DefaultListenAddr          = ":8089"
	DefaultRateLimit           = 60
	DefaultMaxConns            = 64
	DefaultLogLevel            = "info"
	DefaultLogService          = "hlsplay"
	DefaultTelemetryExporter   = "grpc"
	DefaultTelemetryEndpoint   = "localhost:4317"
	DefaultTelemetrySampling   = 1.0
)

// ListenOff as api.listen_addr disables the control API.
const ListenOff = "off"

// DefaultNativeMIMETypes are the direct file types the headless host plays.
var DefaultNativeMIMETypes = []string{
	"audio/mpeg", "audio/mp4", "audio/aac", "audio/wav", "audio/ogg", "audio/webm",
	"video/mp4", "video/webm",
}

// AppConfig is the effective configuration.
type AppConfig struct {
	Version string

	Player    PlayerSettings
	Engine    EngineSettings
	Host      HostSettings
	API       APISettings
	Telemetry TelemetrySettings

	ReportPath string
	LogLevel   string
	LogService string
}

type PlayerSettings struct {
	RetryLimit          int
	RetryDelay          time.Duration
	CompletionThreshold float64
	DefaultUnmuteVolume float64
	InitialVolume       float64
}

type EngineSettings struct {
	Enabled     bool
	HTTPTimeout time.Duration
}

type HostSettings struct {
	NativeMIMETypes    []string
	TimeUpdateInterval time.Duration
}

type APISettings struct {
	ListenAddr string
	RateLimit  int // command requests per minute per client, 0 disables
	MaxConns   int // concurrent API connections, 0 means unlimited
}

type TelemetrySettings struct {
	Enabled      bool
	ExporterType string // grpc | http
	Endpoint     string
	SamplingRate float64
	Environment  string
}

// FileConfig is the on-disk YAML shape. Pointers distinguish "unset" from zero.
type FileConfig struct {
	Player     PlayerFileConfig    `yaml:"player,omitempty"`
	Engine     EngineFileConfig    `yaml:"engine,omitempty"`
	Host       HostFileConfig      `yaml:"host,omitempty"`
	API        APIFileConfig       `yaml:"api,omitempty"`
	Telemetry  TelemetryFileConfig `yaml:"telemetry,omitempty"`
	ReportPath string              `yaml:"report_path,omitempty"`
	LogLevel   string              `yaml:"log_level,omitempty"`
	LogService string              `yaml:"log_service,omitempty"`
}

type PlayerFileConfig struct {
	RetryLimit          *int     `yaml:"retry_limit,omitempty"`
	RetryDelay          string   `yaml:"retry_delay,omitempty"`
	CompletionThreshold *float64 `yaml:"completion_threshold,omitempty"`
	DefaultUnmuteVolume *float64 `yaml:"default_unmute_volume,omitempty"`
	InitialVolume       *float64 `yaml:"initial_volume,omitempty"`
}

type EngineFileConfig struct {
	Enabled     *bool  `yaml:"enabled,omitempty"`
	HTTPTimeout string `yaml:"http_timeout,omitempty"`
}

type HostFileConfig struct {
	NativeMIMETypes    []string `yaml:"native_mime_types,omitempty"`
	TimeUpdateInterval string   `yaml:"time_update_interval,omitempty"`
}

type APIFileConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
	RateLimit  *int   `yaml:"rate_limit,omitempty"`
	MaxConns   *int   `yaml:"max_conns,omitempty"`
}

type TelemetryFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	ExporterType string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"sampling_rate,omitempty"`
	Environment  string   `yaml:"environment,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Player: PlayerSettings{
			RetryLimit:          DefaultRetryLimit,
			RetryDelay:          DefaultRetryDelay,
			CompletionThreshold: DefaultCompletionThreshold,
			DefaultUnmuteVolume: DefaultUnmuteVolume,
			InitialVolume:       DefaultInitialVolume,
		},
		Engine: EngineSettings{
			Enabled:     true,
			HTTPTimeout: DefaultHTTPTimeout,
		},
		Host: HostSettings{
			NativeMIMETypes:    append([]string(nil), DefaultNativeMIMETypes...),
			TimeUpdateInterval: DefaultTimeUpdateInterval,
		},
		API: APISettings{
			ListenAddr: DefaultListenAddr,
			RateLimit:  DefaultRateLimit,
			MaxConns:   DefaultMaxConns,
		},
		Telemetry: TelemetrySettings{
			ExporterType: DefaultTelemetryExporter,
			Endpoint:     DefaultTelemetryEndpoint,
			SamplingRate: DefaultTelemetrySampling,
			Environment:  "production",
		},
		LogLevel:   DefaultLogLevel,
		LogService: DefaultLogService,
	}
}

// Clone returns a deep copy of cfg.
func Clone(in AppConfig) AppConfig {
	out := in
	out.Host.NativeMIMETypes = append([]string(nil), in.Host.NativeMIMETypes...)
	return out
}

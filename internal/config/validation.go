// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/hlsplay/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.Range("player.retry_limit", cfg.Player.RetryLimit, 0, 10)
	v.Duration("player.retry_delay", cfg.Player.RetryDelay, 0, 5*time.Minute)
	v.FloatRange("player.completion_threshold", cfg.Player.CompletionThreshold, 0, 1, true)
	v.FloatRange("player.default_unmute_volume", cfg.Player.DefaultUnmuteVolume, 0, 1, true)
	v.FloatRange("player.initial_volume", cfg.Player.InitialVolume, 0, 1, false)

	v.Duration("engine.http_timeout", cfg.Engine.HTTPTimeout, 100*time.Millisecond, 5*time.Minute)

	if len(cfg.Host.NativeMIMETypes) == 0 {
		v.AddError("host.native_mime_types", "at least one media type is required", cfg.Host.NativeMIMETypes)
	}
	for _, mt := range cfg.Host.NativeMIMETypes {
		v.MIMEType("host.native_mime_types", mt)
	}
	v.Duration("host.time_update_interval", cfg.Host.TimeUpdateInterval, 10*time.Millisecond, 10*time.Second)

	if cfg.API.ListenAddr != ListenOff {
		v.ListenAddr("api.listen_addr", cfg.API.ListenAddr)
	}
	v.NonNegative("api.rate_limit", cfg.API.RateLimit)
	v.NonNegative("api.max_conns", cfg.API.MaxConns)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.sampling_rate", cfg.Telemetry.SamplingRate, 0, 1, false)
	}

	v.FilePath("report_path", cfg.ReportPath)
	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("log_level", err.Error(), cfg.LogLevel)
	}
	v.NotEmpty("log_service", cfg.LogService)

	return v.Err()
}

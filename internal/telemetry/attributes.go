// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Playback attributes
	PlaybackSourceKindKey = "playback.source_kind"
	PlaybackStrategyKey   = "playback.strategy"
	PlaybackSessionIDKey  = "playback.session_id"
	PlaybackGenerationKey = "playback.generation"
	PlaybackRetryCountKey = "playback.retry_count"

	// Recovery attributes
	RecoveryActionKey   = "recovery.action"
	RecoveryCategoryKey = "recovery.category"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SessionAttributes describes a streaming session span.
func SessionAttributes(sessionID, sourceKind, strategy string, generation uint64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(PlaybackStrategyKey, strategy),
		attribute.Int64(PlaybackGenerationKey, int64(generation)),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(PlaybackSessionIDKey, sessionID))
	}
	if sourceKind != "" {
		attrs = append(attrs, attribute.String(PlaybackSourceKindKey, sourceKind))
	}
	return attrs
}

// RecoveryAttributes describes a recovery decision event.
func RecoveryAttributes(action, category string, retryCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RecoveryActionKey, action),
		attribute.String(RecoveryCategoryKey, category),
		attribute.Int(PlaybackRetryCountKey, retryCount),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID  = "session_id"
	FieldRequestID  = "request_id"
	FieldGeneration = "generation"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Playback fields
	FieldSource     = "source"
	FieldSourceKind = "source_kind"
	FieldStrategy   = "strategy"
	FieldFallback   = "fallback"
	FieldRetryCount = "retry_count"
	FieldCategory   = "category"
	FieldAction     = "action"
	FieldFatal      = "fatal"
	FieldPosition   = "position"
	FieldDuration   = "duration"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)

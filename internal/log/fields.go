// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldJobID         = "job_id"
	FieldJobType       = "job_type"
	FieldLibraryID     = "library_id"
	FieldScheduleID    = "schedule_id"
	FieldNode          = "node"

	// Process / coordination fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldLockKey   = "lock_key"
	FieldWorker    = "worker"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath = "path"
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by all spans.
const (
	JobTypeKey          = "job.type"
	JobCorrelationIDKey = "job.correlation_id"

	SessionIDKey = "session.id"
	LibraryIDKey = "library.id"
	MediaIDKey   = "media.id"
)

// JobAttributes describes one queued job. An empty correlation id is omitted.
func JobAttributes(jobType, correlationID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(JobTypeKey, jobType)}
	if correlationID != "" {
		attrs = append(attrs, attribute.String(JobCorrelationIDKey, correlationID))
	}
	return attrs
}

// SessionAttributes describes a stream session and the media it plays.
func SessionAttributes(sessionID, libraryID, mediaID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	for _, kv := range []struct{ k, v string }{
		{SessionIDKey, sessionID},
		{LibraryIDKey, libraryID},
		{MediaIDKey, mediaID},
	} {
		if kv.v != "" {
			attrs = append(attrs, attribute.String(kv.k, kv.v))
		}
	}
	return attrs
}

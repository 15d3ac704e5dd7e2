// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey     ctxKey = FieldRequestID
	correlationIDKey ctxKey = FieldCorrelationID
	jobTypeKey       ctxKey = FieldJobType
)

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// ContextWithCorrelationID stores the correlation ID of a queued job in the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return withValue(ctx, correlationIDKey, id)
}

// ContextWithJobType stores the job type currently being handled in the context.
func ContextWithJobType(ctx context.Context, jobType string) context.Context {
	return withValue(ctx, jobTypeKey, jobType)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

// CorrelationIDFromContext extracts the correlation ID from context if present.
func CorrelationIDFromContext(ctx context.Context) string { return stringValue(ctx, correlationIDKey) }

// JobTypeFromContext extracts the job type from context if present.
func JobTypeFromContext(ctx context.Context) string { return stringValue(ctx, jobTypeKey) }

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches the supplied logger with correlation fields from context.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	for _, f := range []struct {
		field string
		key   ctxKey
	}{
		{FieldRequestID, requestIDKey},
		{FieldCorrelationID, correlationIDKey},
		{FieldJobType, jobTypeKey},
	} {
		if v := stringValue(ctx, f.key); v != "" {
			builder = builder.Str(f.field, v)
			added = true
		}
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a logger that is annotated with the component
// name and enriched with correlation fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}

// FromContext returns a logger from the context, or the base logger if none is attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return L()
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return L()
	}
	return l
}

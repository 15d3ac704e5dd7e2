// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue is a typed request/response job channel over the coordination
// store. One Broker serves any number of job types; each job type is a Queue
// parameterised by its request and result payloads.
//
// Delivery semantics: a request is popped by exactly one consumer. A handler
// error drops the job (no retry, no dead letter); the submitter observes only
// ErrTimeout.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/mediacore/internal/coord"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrTimeout means no result arrived within the submit timeout. The job may still complete later.
	ErrTimeout = errors.New("job result timeout")
	// ErrClosed is returned by Register after the broker was closed.
	ErrClosed = errors.New("queue broker closed")
)

const tracerName = "github.com/ManuGH/mediacore/internal/queue"

// Empty is the payload of job types without request or result data.
type Empty struct{}

// Config tunes a Broker.
type Config struct {
	// Prefix namespaces all keys (default "queue").
	Prefix string
	// WakeInterval bounds one blocking pop so loops observe shutdown.
	WakeInterval time.Duration
	// ResultTTL is how long an unread result slot survives.
	ResultTTL time.Duration
	// Retry is the budget for transient store errors on push.
	Retry coord.RetryPolicy
}

// Broker owns the store connection shared by all queues and their consumers.
type Broker struct {
	store  coord.Store
	conf   Config
	logger zerolog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	regs   map[*Registration]struct{}
	closed bool
}

// NewBroker returns a Broker with defaults applied to conf.
func NewBroker(store coord.Store, conf Config) *Broker {
	if conf.Prefix == "" {
		conf.Prefix = "queue"
	}
	if conf.WakeInterval <= 0 {
		conf.WakeInterval = time.Second
	}
	if conf.ResultTTL <= 0 {
		conf.ResultTTL = time.Minute
	}
	if conf.Retry == (coord.RetryPolicy{}) {
		conf.Retry = coord.DefaultRetryPolicy
	}
	return &Broker{
		store:  store,
		conf:   conf,
		logger: log.WithComponent("queue"),
		tracer: otel.Tracer(tracerName),
		regs:   make(map[*Registration]struct{}),
	}
}

// Close stops every registration and waits for in-flight handlers.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	regs := make([]*Registration, 0, len(b.regs))
	for r := range b.regs {
		regs = append(regs, r)
	}
	b.mu.Unlock()
	for _, r := range regs {
		r.Stop()
	}
}

func (b *Broker) workKey(jobType string) string {
	return b.conf.Prefix + ":" + jobType + ":work"
}

func (b *Broker) resultKey(jobType, id string) string {
	return b.conf.Prefix + ":" + jobType + ":result:" + id
}

// envelope is the wire form of a queued request.
type envelope struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Payload    json.RawMessage   `json:"payload"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Reply      bool              `json:"reply"`
	Trace      map[string]string `json:"trace,omitempty"`
}

// result is the wire form of a handler's answer.
type result struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes one request of a job type.
type Handler[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Queue is the typed view of one job type.
type Queue[Req, Res any] struct {
	b       *Broker
	jobType string
}

// New binds a job type to its payload types.
func New[Req, Res any](b *Broker, jobType string) *Queue[Req, Res] {
	return &Queue[Req, Res]{b: b, jobType: jobType}
}

// Type returns the job type tag.
func (q *Queue[Req, Res]) Type() string { return q.jobType }

func (q *Queue[Req, Res]) push(ctx context.Context, req Req, reply bool) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", q.jobType, err)
	}
	env := envelope{
		ID:         uuid.NewString(),
		Type:       q.jobType,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
		Reply:      reply,
		Trace:      map[string]string{},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(env.Trace))
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode %s envelope: %w", q.jobType, err)
	}
	if _, err := coord.Retry(ctx, q.b.conf.Retry, func() (struct{}, error) {
		return struct{}{}, q.b.store.Push(ctx, q.b.workKey(q.jobType), string(raw), 0)
	}); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", q.jobType, err)
	}
	submittedTotal.WithLabelValues(q.jobType).Inc()
	return env.ID, nil
}

// Enqueue submits req without waiting for a result and returns its correlation id.
func (q *Queue[Req, Res]) Enqueue(ctx context.Context, req Req) (string, error) {
	return q.push(ctx, req, false)
}

// Submit enqueues req and waits up to timeout for its result. ErrTimeout (or
// ctx's error) abandons the wait only; the handler is never interrupted.
// A result that lands exactly at the deadline may be discarded.
func (q *Queue[Req, Res]) Submit(ctx context.Context, req Req, timeout time.Duration) (Res, error) {
	var zero Res
	ctx, span := q.b.tracer.Start(ctx, "queue.submit", trace.WithAttributes(telemetry.JobAttributes(q.jobType, "")...))
	defer span.End()

	id, err := q.push(ctx, req, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		return zero, err
	}
	span.SetAttributes(attribute.String(telemetry.JobCorrelationIDKey, id))

	key := q.b.resultKey(q.jobType, id)
	deadline := time.Now().Add(timeout)
	logger := q.b.logger.With().Str(log.FieldJobType, q.jobType).Str(log.FieldCorrelationID, id).Logger()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			timeoutsTotal.WithLabelValues(q.jobType).Inc()
			span.SetStatus(codes.Error, "timeout")
			return zero, fmt.Errorf("%s %s: %w", q.jobType, id, ErrTimeout)
		}
		// The deadline also bounds stores that round short waits up.
		popCtx, cancel := context.WithDeadline(ctx, deadline)
		raw, ok, err := q.b.store.BlockingPop(popCtx, key, min(remaining, q.b.conf.WakeInterval))
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if !errors.Is(err, coord.ErrUnavailable) {
				return zero, err
			}
			logger.Warn().Err(err).Str("event", "queue.result_wait_error").Msg("waiting for result")
			if err := sleepCtx(ctx, min(time.Until(deadline), q.b.conf.Retry.Initial)); err != nil {
				return zero, err
			}
			continue
		}
		if !ok {
			continue
		}
		var res result
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return zero, fmt.Errorf("decode %s result: %w", q.jobType, err)
		}
		var out Res
		if err := json.Unmarshal(res.Payload, &out); err != nil {
			return zero, fmt.Errorf("decode %s result payload: %w", q.jobType, err)
		}
		return out, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

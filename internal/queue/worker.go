// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ManuGH/mediacore/internal/coord"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// errorBackoff paces a consumer loop while the store is unreachable.
const errorBackoff = 500 * time.Millisecond

// Registration is a running set of consumer loops for one job type.
type Registration struct {
	b       *Broker
	jobType string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// Stop cancels the consumer loops and waits for in-flight handlers to return.
func (r *Registration) Stop() {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.b.mu.Lock()
		delete(r.b.regs, r)
		r.b.mu.Unlock()
		r.b.logger.Info().Str(log.FieldJobType, r.jobType).Str("event", "queue.consumers_stopped").Msg("consumers stopped")
	})
}

// Register starts concurrency consumer loops feeding handler. The loops and
// their handlers live until Stop or Broker.Close.
func (q *Queue[Req, Res]) Register(handler Handler[Req, Res], concurrency int) (*Registration, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	b := q.b
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	reg := &Registration{b: b, jobType: q.jobType, cancel: cancel}
	b.regs[reg] = struct{}{}
	reg.wg.Add(concurrency)
	b.mu.Unlock()

	for i := 0; i < concurrency; i++ {
		go func(worker int) {
			defer reg.wg.Done()
			q.consume(ctx, worker, handler)
		}(i)
	}
	b.logger.Info().
		Str(log.FieldJobType, q.jobType).
		Int("concurrency", concurrency).
		Str("event", "queue.consumers_started").
		Msg("consumers started")
	return reg, nil
}

func (q *Queue[Req, Res]) consume(ctx context.Context, worker int, handler Handler[Req, Res]) {
	b := q.b
	logger := b.logger.With().Str(log.FieldJobType, q.jobType).Int(log.FieldWorker, worker).Logger()
	key := b.workKey(q.jobType)
	for {
		if ctx.Err() != nil {
			return
		}
		raw, ok, err := b.store.BlockingPop(ctx, key, b.conf.WakeInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Str("event", "queue.pop_failed").Msg("consumer pop failed")
			if sleepCtx(ctx, errorBackoff) != nil {
				return
			}
			continue
		}
		if !ok {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			handledTotal.WithLabelValues(q.jobType, resultBadPayload).Inc()
			logger.Error().Err(err).Str("event", "queue.bad_envelope").Msg("dropping undecodable job")
			continue
		}
		q.handle(ctx, env, handler)
	}
}

func (q *Queue[Req, Res]) handle(ctx context.Context, env envelope, handler Handler[Req, Res]) {
	b := q.b
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(env.Trace))
	ctx, span := b.tracer.Start(ctx, "queue.handle", trace.WithAttributes(
		telemetry.JobAttributes(q.jobType, env.ID)...,
	), trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	ctx = log.ContextWithCorrelationID(ctx, env.ID)
	ctx = log.ContextWithJobType(ctx, q.jobType)
	logger := log.WithContext(ctx, b.logger)

	var req Req
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		handledTotal.WithLabelValues(q.jobType, resultBadPayload).Inc()
		span.SetStatus(codes.Error, "bad payload")
		logger.Error().Err(err).Str("event", "queue.bad_payload").Msg("dropping job with undecodable payload")
		return
	}

	queueLatency.WithLabelValues(q.jobType).Observe(time.Since(env.EnqueuedAt).Seconds())
	inflight.WithLabelValues(q.jobType).Inc()
	start := time.Now()
	res, err := safeCall(ctx, handler, req)
	inflight.WithLabelValues(q.jobType).Dec()
	handleDuration.WithLabelValues(q.jobType).Observe(time.Since(start).Seconds())

	if err != nil {
		handledTotal.WithLabelValues(q.jobType, resultFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		logger.Error().Err(err).Str("event", "queue.handler_failed").Msg("job handler failed; dropping job")
		return
	}
	handledTotal.WithLabelValues(q.jobType, resultOK).Inc()
	if !env.Reply {
		return
	}

	payload, err := json.Marshal(res)
	if err != nil {
		logger.Error().Err(err).Str("event", "queue.encode_result_failed").Msg("cannot encode job result")
		return
	}
	raw, err := json.Marshal(result{ID: env.ID, Payload: payload})
	if err != nil {
		logger.Error().Err(err).Str("event", "queue.encode_result_failed").Msg("cannot encode job result")
		return
	}
	// Publishing uses a context detached from shutdown so a finished handler's
	// result is not lost to a concurrent Stop.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := coord.Retry(pubCtx, b.conf.Retry, func() (struct{}, error) {
		return struct{}{}, b.store.Push(pubCtx, b.resultKey(q.jobType, env.ID), string(raw), b.conf.ResultTTL)
	}); err != nil {
		logger.Error().Err(err).Str("event", "queue.publish_failed").Msg("cannot publish job result")
	}
}

// ErrHandlerPanic wraps a recovered handler panic.
var ErrHandlerPanic = errors.New("job handler panicked")

func safeCall[Req, Res any](ctx context.Context, h Handler[Req, Res], req Req) (res Res, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return h(ctx, req)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package coord

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/mediacore/internal/log"
	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how long a transient store failure is retried.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxTries   uint
	MaxElapsed time.Duration
}

// DefaultRetryPolicy is used by components that were not given one.
var DefaultRetryPolicy = RetryPolicy{
	Initial:    100 * time.Millisecond,
	Max:        2 * time.Second,
	MaxTries:   8,
	MaxElapsed: 15 * time.Second,
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	return b
}

// Retry runs op until it succeeds, fails with a non-transient error, ctx ends
// or the policy budget is exhausted. Only errors wrapping ErrUnavailable are retried.
func Retry[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger := log.WithComponent("coord")
			logger.Warn().Err(err).Dur("retry_in", next).
				Str("event", "coord.retry").Msg("transient store error")
		}),
	}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

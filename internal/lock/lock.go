// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lock implements a token-fenced mutual exclusion primitive on top of
// the coordination store. Expiry is the only way a dead holder's lock is reclaimed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/mediacore/internal/coord"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

var (
	// ErrNotHeld is returned when a release or renew presents a token that no
	// longer owns the key (expired and possibly reacquired by someone else).
	ErrNotHeld = errors.New("lock not held")
	// ErrInvalidTTL rejects non-positive ttls; a lock without expiry could never be reclaimed.
	ErrInvalidTTL = errors.New("lock ttl must be positive")
)

// releaseTimeout bounds the release issued after the caller's context ended.
const releaseTimeout = 5 * time.Second

// Lock is one successful acquisition.
type Lock struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Config tunes WithLock's acquire-retry backoff and the store retry budget.
type Config struct {
	RetryMin time.Duration
	RetryMax time.Duration
	Store    coord.RetryPolicy
}

// Locker hands out locks on keys of a shared store.
type Locker struct {
	store coord.Store
	owner string
	conf  Config
	now   func() time.Time
}

// New returns a Locker whose tokens are prefixed with owner (typically the node id).
func New(store coord.Store, owner string, conf Config) *Locker {
	if conf.RetryMin <= 0 {
		conf.RetryMin = 50 * time.Millisecond
	}
	if conf.RetryMax < conf.RetryMin {
		conf.RetryMax = 2 * time.Second
	}
	if conf.Store == (coord.RetryPolicy{}) {
		conf.Store = coord.DefaultRetryPolicy
	}
	return &Locker{store: store, owner: owner, conf: conf, now: time.Now}
}

// NewToken returns a fresh opaque owner token.
func (l *Locker) NewToken() string {
	if l.owner == "" {
		return uuid.NewString()
	}
	return l.owner + "-" + uuid.NewString()
}

// Acquire makes a single attempt to take key for ttl. Contention is reported
// as (nil, false, nil); only an exhausted store retry budget is an error.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, bool, error) {
	return l.acquireToken(ctx, key, l.NewToken(), ttl)
}

func (l *Locker) acquireToken(ctx context.Context, key, token string, ttl time.Duration) (*Lock, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	start := l.now()
	ok, err := coord.Retry(ctx, l.conf.Store, func() (bool, error) {
		return l.store.SetNX(ctx, key, token, ttl)
	})
	if err != nil {
		acquireTotal.WithLabelValues(resultError).Inc()
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		acquireTotal.WithLabelValues(resultContended).Inc()
		return nil, false, nil
	}
	acquireTotal.WithLabelValues(resultAcquired).Inc()
	return &Lock{Key: key, Token: token, ExpiresAt: start.Add(ttl)}, true, nil
}

// Release deletes key only if it is still held with token.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	ok, err := coord.Retry(ctx, l.conf.Store, func() (bool, error) {
		return l.store.CompareAndDelete(ctx, key, token)
	})
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if !ok {
		releaseTotal.WithLabelValues(resultNotHeld).Inc()
		return ErrNotHeld
	}
	releaseTotal.WithLabelValues(resultReleased).Inc()
	return nil
}

// Renew extends a held lock to ttl from now.
func (l *Locker) Renew(ctx context.Context, lk *Lock, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	start := l.now()
	ok, err := coord.Retry(ctx, l.conf.Store, func() (bool, error) {
		return l.store.CompareAndExpire(ctx, lk.Key, lk.Token, ttl)
	})
	if err != nil {
		return fmt.Errorf("renew %s: %w", lk.Key, err)
	}
	if !ok {
		return ErrNotHeld
	}
	lk.ExpiresAt = start.Add(ttl)
	return nil
}

// AcquireWait retries Acquire with exponential backoff until it succeeds or ctx ends.
func (l *Locker) AcquireWait(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.conf.RetryMin
	b.MaxInterval = l.conf.RetryMax
	token := l.NewToken()
	for {
		lk, ok, err := l.acquireToken(ctx, key, token, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return lk, nil
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = l.conf.RetryMax
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// WithLock acquires key (waiting for contention to clear), runs body and
// releases the lock on every exit path, including body errors, panics and
// cancellation of ctx.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, body func(context.Context) error) error {
	lk, err := l.AcquireWait(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := l.Release(relCtx, lk.Key, lk.Token); relErr != nil {
			logger := log.WithComponent("lock")
			logger.Warn().Err(relErr).
				Str(log.FieldLockKey, key).
				Str("event", "lock.release_failed").
				Msg("lock release failed; it will expire on its own")
		}
	}()
	return body(ctx)
}

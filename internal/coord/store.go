// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package coord defines the coordination store contract shared by every
// process of a deployment and ships its Redis and in-process implementations.
package coord

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a transient coordination store failure. Callers retry
// it within a budget (see Retry); everything else is permanent.
var ErrUnavailable = errors.New("coordination store unavailable")

// Store is the shared key/value substrate for locks and queues.
//
// Contract:
//   - keys written with a ttl expire without any action by the writer
//   - SetNX and the Compare* operations are atomic with respect to each other
//   - BlockingPop removes the head of a list key, waiting at most timeout
type Store interface {
	// SetNX sets key to value with ttl only if key does not exist.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if it currently holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// CompareAndExpire resets the ttl of key only if it currently holds value.
	CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the string value of key.
	Get(ctx context.Context, key string) (string, bool, error)
	// Push appends value to the list at key. A positive ttl (re)arms the list expiry.
	Push(ctx context.Context, key, value string, ttl time.Duration) error
	// BlockingPop pops the head of the list at key, returning found=false on timeout.
	BlockingPop(ctx context.Context, key string, timeout time.Duration) (string, bool, error)
	// Delete removes keys unconditionally.
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

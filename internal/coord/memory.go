// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package coord

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node runs.
// Not shared between processes; expiry is evaluated lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	values  map[string]memValue
	lists   map[string]*memList
	waiters map[string]chan struct{}
	closed  bool
}

type memValue struct {
	value string
	exp   time.Time // zero: no expiry
}

type memList struct {
	items []string
	exp   time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		values:  make(map[string]memValue),
		lists:   make(map[string]*memList),
		waiters: make(map[string]chan struct{}),
	}
}

// WithClock replaces the expiry clock. Intended for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func expired(exp, now time.Time) bool {
	return !exp.IsZero() && !now.Before(exp)
}

func deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// value returns the live value for key. Caller holds m.mu.
func (m *MemoryStore) value(key string) (memValue, bool) {
	v, ok := m.values[key]
	if ok && expired(v.exp, m.now()) {
		delete(m.values, key)
		return memValue{}, false
	}
	return v, ok
}

// list returns the live list for key. Caller holds m.mu.
func (m *MemoryStore) list(key string) *memList {
	l, ok := m.lists[key]
	if ok && expired(l.exp, m.now()) {
		delete(m.lists, key)
		return nil
	}
	return l
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrUnavailable
	}
	if _, ok := m.value(key); ok {
		return false, nil
	}
	m.values[key] = memValue{value: value, exp: deadline(m.now(), ttl)}
	return true, nil
}

func (m *MemoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrUnavailable
	}
	v, ok := m.value(key)
	if !ok || v.value != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *MemoryStore) CompareAndExpire(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrUnavailable
	}
	v, ok := m.value(key)
	if !ok || v.value != value {
		return false, nil
	}
	v.exp = deadline(m.now(), ttl)
	m.values[key] = v
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrUnavailable
	}
	v, ok := m.value(key)
	return v.value, ok, nil
}

func (m *MemoryStore) Push(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	l := m.list(key)
	if l == nil {
		l = &memList{}
		m.lists[key] = l
	}
	l.items = append(l.items, value)
	if ttl > 0 {
		l.exp = deadline(m.now(), ttl)
	}
	if ch, ok := m.waiters[key]; ok {
		close(ch)
		delete(m.waiters, key)
	}
	return nil
}

func (m *MemoryStore) BlockingPop(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return "", false, ErrUnavailable
		}
		if l := m.list(key); l != nil && len(l.items) > 0 {
			v := l.items[0]
			l.items = l.items[1:]
			if len(l.items) == 0 {
				delete(m.lists, key)
			}
			m.mu.Unlock()
			return v, true, nil
		}
		wait, ok := m.waiters[key]
		if !ok {
			wait = make(chan struct{})
			m.waiters[key] = wait
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
			return "", false, nil
		case <-wait:
		}
	}
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	return nil
}

// Close makes every further call fail with ErrUnavailable and wakes blocked pops.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for k, ch := range m.waiters {
		close(ch)
		delete(m.waiters, k)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)

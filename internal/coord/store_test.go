// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package coord

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/mediacore/internal/log"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T) (Store, func(time.Duration))

func memoryFactory(t *testing.T) (Store, func(time.Duration)) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	st := NewMemoryStore().WithClock(clk.Now)
	t.Cleanup(func() { _ = st.Close() })
	return st, clk.Advance
}

func redisFactory(t *testing.T) (Store, func(time.Duration)) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisStoreFromClient(client, zerolog.Nop())
	t.Cleanup(func() { _ = st.Close() })
	return st, mr.FastForward
}

func forEachStore(t *testing.T, fn func(t *testing.T, st Store, advance func(time.Duration))) {
	for name, f := range map[string]storeFactory{"memory": memoryFactory, "redis": redisFactory} {
		t.Run(name, func(t *testing.T) {
			st, advance := f(t)
			fn(t, st, advance)
		})
	}
}

func TestStore_SetNXAndExpiry(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store, advance func(time.Duration)) {
		ctx := context.Background()

		ok, err := st.SetNX(ctx, "k", "a", 5*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = st.SetNX(ctx, "k", "b", 5*time.Second)
		require.NoError(t, err)
		assert.False(t, ok, "second SetNX must not overwrite")

		v, found, err := st.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "a", v)

		advance(6 * time.Second)

		ok, err = st.SetNX(ctx, "k", "b", 5*time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "expired key must be settable again")
	})
}

func TestStore_CompareAndDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store, _ func(time.Duration)) {
		ctx := context.Background()
		_, err := st.SetNX(ctx, "lock", "owner-1", time.Minute)
		require.NoError(t, err)

		ok, err := st.CompareAndDelete(ctx, "lock", "owner-2")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = st.CompareAndDelete(ctx, "lock", "owner-1")
		require.NoError(t, err)
		assert.True(t, ok)

		_, found, err := st.Get(ctx, "lock")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestStore_CompareAndExpire(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store, advance func(time.Duration)) {
		ctx := context.Background()
		_, err := st.SetNX(ctx, "lease", "me", 3*time.Second)
		require.NoError(t, err)

		advance(2 * time.Second)
		ok, err := st.CompareAndExpire(ctx, "lease", "me", 3*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = st.CompareAndExpire(ctx, "lease", "other", 3*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		advance(2 * time.Second)
		_, found, err := st.Get(ctx, "lease")
		require.NoError(t, err)
		assert.True(t, found, "renewed lease must outlive the original ttl")
	})
}

func TestStore_PushPopOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store, _ func(time.Duration)) {
		ctx := context.Background()
		require.NoError(t, st.Push(ctx, "list", "1", 0))
		require.NoError(t, st.Push(ctx, "list", "2", 0))

		v, ok, err := st.BlockingPop(ctx, "list", time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "1", v)

		v, ok, err = st.BlockingPop(ctx, "list", time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2", v)
	})
}

func TestStore_BlockingPopWakesOnPush(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store, _ func(time.Duration)) {
		ctx := context.Background()
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = st.Push(ctx, "wake", "v", 0)
		}()
		v, ok, err := st.BlockingPop(ctx, "wake", 3*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})
}

func TestStore_BlockingPopTimeout(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store, _ func(time.Duration)) {
		_, ok, err := st.BlockingPop(context.Background(), "empty", time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStore_PopHonoursContext(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := st.BlockingPop(ctx, "x", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_ClosedIsUnavailable(t *testing.T) {
	st := NewMemoryStore()
	require.NoError(t, st.Close())
	_, err := st.SetNX(context.Background(), "k", "v", time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisStore_ServerDownIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	st := NewRedisStoreFromClient(client, zerolog.Nop())
	mr.Close()

	_, err := st.SetNX(context.Background(), "k", "v", time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), RetryPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, MaxTries: 5},
		func() (int, error) {
			calls++
			if calls < 3 {
				return 0, ErrUnavailable
			}
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{Initial: time.Millisecond, MaxTries: 5},
		func() (int, error) {
			calls++
			return 0, boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_BudgetExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond, MaxTries: 3},
		func() (int, error) {
			calls++
			return 0, ErrUnavailable
		})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetry_LogsEachTransientFailure(t *testing.T) {
	var buf bytes.Buffer
	log.Configure(log.Config{Output: &buf})
	t.Cleanup(func() { log.Configure(log.Config{}) })

	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond, MaxTries: 3},
		func() (int, error) {
			calls++
			if calls < 3 {
				return 0, ErrUnavailable
			}
			return 1, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(buf.String(), `"event":"coord.retry"`))
	assert.Contains(t, buf.String(), `"component":"coord"`)
}

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend pairs a Cache with a way to move its clock forward.
type backend struct {
	cache   Cache
	advance func(time.Duration)
}

func newRedisBackend(t *testing.T) backend {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return backend{cache: c, advance: mr.FastForward}
}

func newMemoryBackend(t *testing.T) backend {
	t.Helper()
	m, err := NewMemory(128)
	require.NoError(t, err)
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return backend{cache: m, advance: func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	t.Run("redis", func(t *testing.T) { fn(t, newRedisBackend(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryBackend(t)) })
}

func TestGetSetDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		_, err := b.cache.Get(ctx, "k")
		require.ErrorIs(t, err, ErrMiss)

		require.NoError(t, b.cache.Set(ctx, "k", "v1", time.Minute))
		v, err := b.cache.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v1", v)

		require.NoError(t, b.cache.Set(ctx, "k", "v2", time.Minute))
		v, err = b.cache.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v2", v)

		require.NoError(t, b.cache.Delete(ctx, "k"))
		_, err = b.cache.Get(ctx, "k")
		require.ErrorIs(t, err, ErrMiss)

		require.NoError(t, b.cache.Delete(ctx, "never-set"))
	})
}

func TestExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		require.NoError(t, b.cache.Set(ctx, "otp", "123456", 10*time.Minute))

		b.advance(9 * time.Minute)
		_, err := b.cache.Get(ctx, "otp")
		require.NoError(t, err)

		b.advance(2 * time.Minute)
		_, err = b.cache.Get(ctx, "otp")
		require.ErrorIs(t, err, ErrMiss)
		_, err = b.cache.Take(ctx, "otp")
		require.ErrorIs(t, err, ErrMiss)
	})
}

func TestTakeIsOneShot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		require.NoError(t, b.cache.Set(ctx, "token", "payload", time.Minute))

		v, err := b.cache.Take(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "payload", v)

		_, err = b.cache.Take(ctx, "token")
		require.ErrorIs(t, err, ErrMiss)
	})
}

func TestCompareAndDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		require.NoError(t, b.cache.Set(ctx, "otp", "123456", time.Minute))

		ok, err := b.cache.CompareAndDelete(ctx, "otp", "000000")
		require.NoError(t, err)
		assert.False(t, ok)
		v, err := b.cache.Get(ctx, "otp")
		require.NoError(t, err, "mismatch must leave the value in place")
		assert.Equal(t, "123456", v)

		ok, err = b.cache.CompareAndDelete(ctx, "otp", "123456")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.cache.CompareAndDelete(ctx, "otp", "123456")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestIncrCountsWithinFirstTTL(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		for want := int64(1); want <= 3; want++ {
			n, err := b.cache.Incr(ctx, "attempts", 10*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}

		// later increments do not push the expiry out
		b.advance(9 * time.Minute)
		n, err := b.cache.Incr(ctx, "attempts", 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)

		b.advance(2 * time.Minute)
		n, err = b.cache.Incr(ctx, "attempts", 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "counter restarts after expiry")
	})
}

func TestConcurrentTakeSucceedsOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		require.NoError(t, b.cache.Set(ctx, "token", "payload", time.Minute))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := b.cache.Take(ctx, "token"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not a url")
	require.Error(t, err)
}

func TestRedisPropagatesServerErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	mr.SetError("LOADING")

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	m, err := NewMemory(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1", 0))
	require.NoError(t, m.Set(ctx, "b", "2", 0))
	_, _ = m.Get(ctx, "a")
	require.NoError(t, m.Set(ctx, "c", "3", 0))

	_, err = m.Get(ctx, "b")
	require.ErrorIs(t, err, ErrMiss)
	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCache returns a cache with a controllable clock.
func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *time.Time) {
	t.Helper()
	c := New("test", ttl)
	t.Cleanup(c.Close)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetOrComputeCachesSuccess(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	calls := 0
	compute := func() (any, error) {
		calls++
		return "value", nil
	}

	v, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls, "second call must be served from cache")
}

func TestExpiryTriggersExactlyOneRecompute(t *testing.T) {
	c, now := newTestCache(t, time.Minute)

	calls := 0
	compute := func() (any, error) {
		calls++
		return calls, nil
	}

	_, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)

	*now = now.Add(61 * time.Second)

	v, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, calls)

	// Fresh again after the recompute.
	_, err = c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestErrorsAreNotCached(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	wantErr := errors.New("upstream unavailable")
	calls := 0
	compute := func() (any, error) {
		calls++
		if calls == 1 {
			return nil, wantErr
		}
		return "ok", nil
	}

	_, err := c.GetOrCompute("k", compute)
	assert.ErrorIs(t, err, wantErr, "compute error must propagate unchanged")

	v, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestKeyDerivation(t *testing.T) {
	assert.Equal(t, Key("list_activity", "diaper", "2024-01-01"), Key("list_activity", "diaper", "2024-01-01"))
	assert.NotEqual(t, Key("list_activity", "diaper"), Key("list_activity", "feeding"))
	assert.NotEqual(t, Key("list_activity", "a:b"), Key("list_activity", "a", "b"),
		"parameter boundaries must not collide")
	assert.NotEqual(t, Key("devices"), Key("photos"))
}

func TestSetWithTTLIndependentExpiry(t *testing.T) {
	c, now := newTestCache(t, time.Minute)

	c.SetWithTTL("login", "token", time.Hour)
	c.Set("data", "payload")

	*now = now.Add(2 * time.Minute)

	_, ok := c.Get("data")
	assert.False(t, ok, "default-TTL entry should be expired")
	v, ok := c.Get("login")
	assert.True(t, ok, "long-TTL entry should survive")
	assert.Equal(t, "token", v)
}

func TestInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Set(Key("grow_data", "1"), "a")
	c.Set(Key("grow_data", "2"), "b")
	c.Set(Key("photos", "1"), "c")

	c.InvalidatePrefix("grow_data:")

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(Key("photos", "1"))
	assert.True(t, ok)
}

func TestEvictExpired(t *testing.T) {
	c, now := newTestCache(t, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	*now = now.Add(2 * time.Minute)
	c.evictExpired()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(2), c.Stats().Evictions)
}

func TestConcurrentAccess(t *testing.T) {
	c := New("concurrent", time.Minute)
	t.Cleanup(c.Close)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := Key("op", string(rune('a'+n%4)))
				_, _ = c.GetOrCompute(key, func() (any, error) { return n, nil })
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestStatsCounts(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Get("missing")
	c.Set("k", 1)
	c.Get("k")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

package hmacauth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUNonceCache(t *testing.T) {
	ctx := context.Background()
	ttl := 60 * time.Second

	t.Run("admits once then rejects", func(t *testing.T) {
		cache := NewLRUNonceCache(10)

		ok, err := cache.CheckAndAdmit(ctx, "n1", ttl)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = cache.CheckAndAdmit(ctx, "n1", ttl)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired entries are admissible again", func(t *testing.T) {
		cache := NewLRUNonceCache(10)
		now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
		cache.now = func() time.Time { return now }

		ok, _ := cache.CheckAndAdmit(ctx, "n1", ttl)
		assert.True(t, ok)

		now = now.Add(ttl - time.Second)
		ok, _ = cache.CheckAndAdmit(ctx, "n1", ttl)
		assert.False(t, ok, "still inside the TTL")

		now = now.Add(2 * time.Second)
		ok, _ = cache.CheckAndAdmit(ctx, "n1", ttl)
		assert.True(t, ok, "strictly after the TTL")
	})

	t.Run("capacity forces oldest-first eviction", func(t *testing.T) {
		cache := NewLRUNonceCache(3)

		for i := 0; i < 3; i++ {
			ok, _ := cache.CheckAndAdmit(ctx, fmt.Sprintf("n%d", i), ttl)
			require.True(t, ok)
		}
		assert.Equal(t, 3, cache.Size())

		ok, _ := cache.CheckAndAdmit(ctx, "n3", ttl)
		assert.True(t, ok)
		assert.Equal(t, 3, cache.Size())

		// n0 was the oldest and is gone; readmitting it must succeed.
		ok, _ = cache.CheckAndAdmit(ctx, "n0", ttl)
		assert.True(t, ok)

		// n2 survived the evictions.
		ok, _ = cache.CheckAndAdmit(ctx, "n2", ttl)
		assert.False(t, ok)
	})

	t.Run("expiry scan stops at the first live entry", func(t *testing.T) {
		cache := NewLRUNonceCache(100)
		now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
		cache.now = func() time.Time { return now }

		cache.CheckAndAdmit(ctx, "old1", ttl)
		cache.CheckAndAdmit(ctx, "old2", ttl)
		now = now.Add(30 * time.Second)
		cache.CheckAndAdmit(ctx, "young", ttl)

		now = now.Add(31 * time.Second)
		assert.Equal(t, 1, cache.Size())

		ok, _ := cache.CheckAndAdmit(ctx, "young", ttl)
		assert.False(t, ok)
	})

	t.Run("zero capacity falls back to the default", func(t *testing.T) {
		cache := NewLRUNonceCache(0)
		assert.Equal(t, DefaultNonceCacheSize, cache.capacity)
	})
}

func TestRedisNonceStore(t *testing.T) {
	ctx := context.Background()

	newStore := func(t *testing.T) (*RedisNonceStore, *miniredis.Miniredis) {
		t.Helper()
		mr := miniredis.RunT(t)
		store, err := NewRedisNonceStore("redis://" + mr.Addr())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store, mr
	}

	t.Run("admits once then rejects", func(t *testing.T) {
		store, _ := newStore(t)

		ok, err := store.CheckAndAdmit(ctx, "n1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.CheckAndAdmit(ctx, "n1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("keys expire with the TTL", func(t *testing.T) {
		store, mr := newStore(t)

		ok, err := store.CheckAndAdmit(ctx, "n1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Minute)

		ok, err = store.CheckAndAdmit(ctx, "n1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("size reflects tracked nonces", func(t *testing.T) {
		store, _ := newStore(t)
		_, err := store.CheckAndAdmit(ctx, "a", time.Minute)
		require.NoError(t, err)
		_, err = store.CheckAndAdmit(ctx, "b", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, store.Size())
	})
}

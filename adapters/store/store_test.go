package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/vaultgate/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s ports.Store) {
	ctx := context.Background()

	t.Run("nonce is consumed once", func(t *testing.T) {
		key := uuid.NewString()
		require.NoError(t, s.SaveNonce(ctx, key, time.Now().Add(time.Minute)))

		ok, err := s.ConsumeNonce(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ConsumeNonce(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown nonce", func(t *testing.T) {
		ok, err := s.ConsumeNonce(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent consumers", func(t *testing.T) {
		key := uuid.NewString()
		require.NoError(t, s.SaveNonce(ctx, key, time.Now().Add(time.Minute)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.ConsumeNonce(ctx, key)
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("session revocation", func(t *testing.T) {
		id := uuid.NewString()

		revoked, err := s.IsSessionInvalidated(ctx, id)
		require.NoError(t, err)
		assert.False(t, revoked)

		require.NoError(t, s.InvalidateSession(ctx, id, time.Minute))
		require.NoError(t, s.InvalidateSession(ctx, id, time.Minute))

		revoked, err = s.IsSessionInvalidated(ctx, id)
		require.NoError(t, err)
		assert.True(t, revoked)
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newMemoryStore(func() time.Time { return now })

	require.NoError(t, s.SaveNonce(ctx, "expired", now.Add(time.Minute)))
	require.NoError(t, s.SaveNonce(ctx, "fresh", now.Add(time.Hour)))
	require.NoError(t, s.InvalidateSession(ctx, "session", time.Minute))

	now = now.Add(2 * time.Minute)

	ok, err := s.ConsumeNonce(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, ok)

	revoked, err := s.IsSessionInvalidated(ctx, "session")
	require.NoError(t, err)
	assert.False(t, revoked)

	ok, err = s.ConsumeNonce(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStorePurgesLazily(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newMemoryStore(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		require.NoError(t, s.SaveNonce(ctx, uuid.NewString(), now.Add(time.Second)))
	}
	now = now.Add(time.Minute)
	require.NoError(t, s.SaveNonce(ctx, "kept", now.Add(time.Second)))

	assert.Len(t, s.nonces, 1)
}

func TestMemoryStoreKeepsLongerRevocation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newMemoryStore(func() time.Time { return now })

	require.NoError(t, s.InvalidateSession(ctx, "session", time.Hour))
	require.NoError(t, s.InvalidateSession(ctx, "session", time.Minute))

	now = now.Add(10 * time.Minute)
	revoked, err := s.IsSessionInvalidated(ctx, "session")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRedisStore(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	testStore(t, NewRedisStore(client, "vaultgate-test:"+uuid.NewString()+":"))
}

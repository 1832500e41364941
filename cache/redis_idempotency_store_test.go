package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live redis when REDIS_ADDR is set.
func newTestStore(t *testing.T) *RedisIdempotencyStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return NewRedisIdempotencyStore(rdb, time.Minute)
}

func TestIdempotencyStore_LockRememberRecall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := uuid.NewString()

	_, ok, err := s.Recall(ctx, "orders", key)
	require.NoError(t, err)
	assert.False(t, ok)

	locked, err := s.TryLock(ctx, "orders", key)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = s.TryLock(ctx, "orders", key)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, s.Remember(ctx, "orders", key, "42"))
	val, ok, err := s.Recall(ctx, "orders", key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42", val)
}

func TestIdempotencyStore_Unlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := uuid.NewString()

	locked, err := s.TryLock(ctx, "orders", key)
	require.NoError(t, err)
	require.True(t, locked)
	require.NoError(t, s.Unlock(ctx, "orders", key))

	locked, err = s.TryLock(ctx, "orders", key)
	require.NoError(t, err)
	assert.True(t, locked)
}

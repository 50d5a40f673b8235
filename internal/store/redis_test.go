package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()
	cfg.Prefix = "test:"

	s, err := NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestRedisStore_ConnectFailure(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Address = "localhost:1"
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.MaxRetries = 0

	_, err := NewRedisStore(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestRedisStore_GetMissingKey(t *testing.T) {
	s, _ := newTestRedisStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsKeyNotFound(err))
}

func TestRedisStore_Increment(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	count, err := s.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.Increment(ctx, "counter", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	got, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)
}

func TestRedisStore_IncrementWithExpirySetsTTLOnce(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	count, err := s.IncrementWithExpiry(ctx, "counter", 1, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The expiry is set exactly once, when the key is created.
	ttl := mr.TTL("test:counter")
	assert.Equal(t, 10*time.Second, ttl)

	mr.FastForward(4 * time.Second)

	count, err = s.IncrementWithExpiry(ctx, "counter", 1, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ttl = mr.TTL("test:counter")
	assert.Equal(t, 6*time.Second, ttl)
}

func TestRedisStore_CounterExpires(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "counter", 1, 5*time.Second)
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	_, err = s.Get(ctx, "counter")
	assert.True(t, IsKeyNotFound(err))

	// A fresh increment restarts the window.
	count, err := s.IncrementWithExpiry(ctx, "counter", 1, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisStore_Expire(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.Increment(ctx, "counter", 1)
	require.NoError(t, err)

	require.NoError(t, s.Expire(ctx, "counter", 3*time.Second))

	assert.Equal(t, 3*time.Second, mr.TTL("test:counter"))
}

func TestRedisStore_SetGetBytes(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBytes(ctx, "blob", []byte(`{"a":1}`), time.Minute))

	got, err := s.GetBytes(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)

	_, err = s.GetBytes(ctx, "missing")
	assert.True(t, IsKeyNotFound(err))
}

func TestRedisStore_KeysByPrefix(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBytes(ctx, "metrics:a", []byte("1"), time.Minute))
	require.NoError(t, s.SetBytes(ctx, "metrics:b", []byte("2"), time.Minute))
	_, err := s.Increment(ctx, "failed:1.2.3.4", 1)
	require.NoError(t, err)

	keys, err := s.Keys(ctx, "metrics:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"metrics:a", "metrics:b"}, keys)
}

func TestRedisStore_Delete(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.Increment(ctx, "counter", 1)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "counter"))

	_, err = s.Get(ctx, "counter")
	assert.True(t, IsKeyNotFound(err))
}

func TestRedisStore_CloseIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()

	s, err := NewRedisStore(cfg)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestRedisStore_ContextCancelled(t *testing.T) {
	s, _ := newTestRedisStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "counter")
	assert.Error(t, err)

	_, err = s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	assert.Error(t, err)
}

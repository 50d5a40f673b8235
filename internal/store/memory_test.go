package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStoreWithCleanupInterval(10 * time.Millisecond)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStore_GetMissingKey(t *testing.T) {
	s := newTestMemoryStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_Increment(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	count, err := s.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.Increment(ctx, "counter", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	got, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

func TestMemoryStore_IncrementWithExpiry(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	count, err := s.IncrementWithExpiry(ctx, "counter", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Subsequent increments keep the original expiry.
	count, err = s.IncrementWithExpiry(ctx, "counter", 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	time.Sleep(80 * time.Millisecond)

	_, err = s.Get(ctx, "counter")
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_IncrementAfterExpiryRestartsWindow(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "counter", 1, 30*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	// The expired entry is replaced as if freshly created.
	count, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Hour)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	count, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine), count)
}

func TestMemoryStore_Expire(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := s.Increment(ctx, "counter", 1)
	require.NoError(t, err)

	require.NoError(t, s.Expire(ctx, "counter", 30*time.Millisecond))

	time.Sleep(60 * time.Millisecond)
	_, err = s.Get(ctx, "counter")
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_ExpireMissingKey(t *testing.T) {
	s := newTestMemoryStore(t)

	err := s.Expire(context.Background(), "missing", time.Minute)
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_SetGetBytes(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBytes(ctx, "blob", []byte("payload"), time.Hour))

	got, err := s.GetBytes(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestMemoryStore_GetBytesExpired(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBytes(ctx, "blob", []byte("payload"), 30*time.Millisecond))

	time.Sleep(60 * time.Millisecond)

	_, err := s.GetBytes(ctx, "blob")
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_KeysByPrefix(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBytes(ctx, "metrics:a", []byte("1"), time.Hour))
	require.NoError(t, s.SetBytes(ctx, "metrics:b", []byte("2"), time.Hour))
	_, err := s.Increment(ctx, "failed:1.2.3.4", 1)
	require.NoError(t, err)

	keys, err := s.Keys(ctx, "metrics:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"metrics:a", "metrics:b"}, keys)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := s.Increment(ctx, "counter", 1)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "counter"))

	_, err = s.Get(ctx, "counter")
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_CleanupRemovesExpiredEntries(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SetBytes(ctx, fmt.Sprintf("k%d", i), []byte("v"), 20*time.Millisecond))
	}
	require.Equal(t, 5, s.Size())

	assert.Eventually(t, func() bool {
		return s.Size() == 0
	}, time.Second, 20*time.Millisecond)
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestMemoryStore_ContextCancelled(t *testing.T) {
	s := newTestMemoryStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "counter")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Increment(ctx, "counter", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

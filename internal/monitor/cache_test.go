package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/reqguard/internal/recorder"
	"github.com/vyrodovalexey/reqguard/internal/store"
)

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "metrics:none:none", cacheKey(nil, nil))

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	assert.Equal(t, "metrics:2026-03-01T12:00:00Z:none", cacheKey(&start, nil))
	assert.Equal(t, "metrics:none:2026-03-01T13:00:00Z", cacheKey(nil, &end))
	assert.Equal(t, "metrics:2026-03-01T12:00:00Z:2026-03-01T13:00:00Z", cacheKey(&start, &end))
}

func TestCacheKey_NormalizesToUTC(t *testing.T) {
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	offset := utc.In(time.FixedZone("plus2", 2*60*60))

	assert.Equal(t, cacheKey(&utc, nil), cacheKey(&offset, nil))
}

func TestMetricsCache_RoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	c := newMetricsCache(s, nil)
	ctx := context.Background()

	groups := []AggregatedGroup{
		{
			Identity:  "10.0.0.5",
			Reason:    "Invalid access token",
			Count:     3,
			FirstSeen: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			LastSeen:  time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		},
	}

	key := cacheKey(nil, nil)
	require.NoError(t, c.Set(ctx, key, groups, time.Minute))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, groups, got)
}

func TestMetricsCache_Miss(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	c := newMetricsCache(s, nil)

	_, err := c.Get(context.Background(), cacheKey(nil, nil))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMetricsCache_EntryExpires(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	c := newMetricsCache(s, nil)
	ctx := context.Background()

	key := cacheKey(nil, nil)
	require.NoError(t, c.Set(ctx, key, []AggregatedGroup{}, 30*time.Millisecond))

	time.Sleep(60 * time.Millisecond)

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMetricsCache_CorruptEntryTreatedAsMiss(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	c := newMetricsCache(s, nil)
	ctx := context.Background()

	key := cacheKey(nil, nil)
	require.NoError(t, s.SetBytes(ctx, key, []byte("not json"), time.Minute))

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// The corrupt entry is dropped.
	_, err = s.GetBytes(ctx, key)
	assert.True(t, store.IsKeyNotFound(err))
}

func TestMetricsCache_InvalidateAll(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	c := newMetricsCache(s, nil)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, c.Set(ctx, cacheKey(nil, nil), []AggregatedGroup{}, time.Minute))
	require.NoError(t, c.Set(ctx, cacheKey(&start, nil), []AggregatedGroup{}, time.Minute))

	// Unrelated keys survive invalidation.
	_, err := s.Increment(ctx, "failed:10.0.0.5", 1)
	require.NoError(t, err)

	require.NoError(t, c.InvalidateAll(ctx))

	_, err = c.Get(ctx, cacheKey(nil, nil))
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, cacheKey(&start, nil))
	assert.ErrorIs(t, err, ErrCacheMiss)

	count, err := s.Get(ctx, "failed:10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAggregateRecords_Empty(t *testing.T) {
	groups := aggregateRecords(nil)
	assert.Empty(t, groups)
}

func TestAggregateRecords_GroupsByIdentityAndReason(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*recorder.FailureRecord{
		{Identity: "10.0.0.5", Reason: "Invalid access token", Timestamp: base},
		{Identity: "10.0.0.5", Reason: "Invalid access token", Timestamp: base.Add(time.Minute)},
		{Identity: "10.0.0.5", Reason: "Missing header", Timestamp: base.Add(2 * time.Minute)},
		{Identity: "10.0.0.6", Reason: "Invalid access token", Timestamp: base.Add(3 * time.Minute)},
	}

	groups := aggregateRecords(records)
	require.Len(t, groups, 3)

	assert.Equal(t, "10.0.0.5", groups[0].Identity)
	assert.Equal(t, "Invalid access token", groups[0].Reason)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, base, groups[0].FirstSeen)
	assert.Equal(t, base.Add(time.Minute), groups[0].LastSeen)
}

func TestAggregateRecords_SortsByCountDescending(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var records []*recorder.FailureRecord
	for i := 0; i < 1; i++ {
		records = append(records, &recorder.FailureRecord{Identity: "a", Reason: "r", Timestamp: base})
	}
	for i := 0; i < 3; i++ {
		records = append(records, &recorder.FailureRecord{Identity: "b", Reason: "r", Timestamp: base})
	}
	for i := 0; i < 2; i++ {
		records = append(records, &recorder.FailureRecord{Identity: "c", Reason: "r", Timestamp: base})
	}

	groups := aggregateRecords(records)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{groups[0].Identity, groups[1].Identity, groups[2].Identity})
}

func TestAggregateRecords_TiesKeepFirstAppearanceOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*recorder.FailureRecord{
		{Identity: "x", Reason: "r", Timestamp: base},
		{Identity: "y", Reason: "r", Timestamp: base},
	}

	groups := aggregateRecords(records)
	require.Len(t, groups, 2)
	assert.Equal(t, "x", groups[0].Identity)
	assert.Equal(t, "y", groups[1].Identity)
}

func TestAggregateRecords_OutOfOrderTimestamps(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*recorder.FailureRecord{
		{Identity: "a", Reason: "r", Timestamp: base.Add(time.Hour)},
		{Identity: "a", Reason: "r", Timestamp: base},
		{Identity: "a", Reason: "r", Timestamp: base.Add(30 * time.Minute)},
	}

	groups := aggregateRecords(records)
	require.Len(t, groups, 1)
	assert.Equal(t, base, groups[0].FirstSeen)
	assert.Equal(t, base.Add(time.Hour), groups[0].LastSeen)
}

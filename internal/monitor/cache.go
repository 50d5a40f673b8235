package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/reqguard/internal/store"
)

// cacheKeyPrefix namespaces cached aggregation results in the store.
const cacheKeyPrefix = "metrics:"

// ErrCacheMiss is returned by the metrics cache when no entry exists
// for the requested range.
var ErrCacheMiss = errors.New("metrics cache miss")

// metricsCache stores aggregated metrics results keyed by query range.
// Entries carry a short TTL; any new failure record invalidates every
// entry, so a hit is always consistent with the record set at the time
// it was written.
type metricsCache struct {
	store  store.Store
	logger *zap.Logger
}

func newMetricsCache(s store.Store, logger *zap.Logger) *metricsCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &metricsCache{
		store:  s,
		logger: logger,
	}
}

// cacheKey builds the canonical key for a query range. Nil bounds map
// to "none" so that (nil, nil), (t, nil) and (nil, t) are all distinct.
func cacheKey(start, end *time.Time) string {
	return cacheKeyPrefix + boundString(start) + ":" + boundString(end)
}

func boundString(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Get returns the cached groups for the key, or ErrCacheMiss.
func (c *metricsCache) Get(ctx context.Context, key string) ([]AggregatedGroup, error) {
	raw, err := c.store.GetBytes(ctx, key)
	if err != nil {
		if store.IsKeyNotFound(err) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("metrics cache read for %s failed: %w", key, err)
	}

	var groups []AggregatedGroup
	if err := json.Unmarshal(raw, &groups); err != nil {
		// A corrupt entry is dropped and treated as a miss.
		c.logger.Warn("discarding undecodable metrics cache entry",
			zap.String("key", key),
			zap.Error(err))
		if delErr := c.store.Delete(ctx, key); delErr != nil && !store.IsKeyNotFound(delErr) {
			c.logger.Warn("failed to drop metrics cache entry", zap.Error(delErr))
		}
		return nil, ErrCacheMiss
	}

	return groups, nil
}

// Set stores the groups under the key with the given TTL.
func (c *metricsCache) Set(ctx context.Context, key string, groups []AggregatedGroup, ttl time.Duration) error {
	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("metrics cache encode for %s failed: %w", key, err)
	}

	if err := c.store.SetBytes(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("metrics cache write for %s failed: %w", key, err)
	}

	return nil
}

// InvalidateAll drops every cached range. Called on each new failure
// record so stale aggregates never outlive a write.
func (c *metricsCache) InvalidateAll(ctx context.Context) error {
	keys, err := c.store.Keys(ctx, cacheKeyPrefix)
	if err != nil {
		return fmt.Errorf("metrics cache key scan failed: %w", err)
	}

	var firstErr error
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil && !store.IsKeyNotFound(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("metrics cache invalidation for %s failed: %w", key, err)
			}
		}
	}

	return firstErr
}

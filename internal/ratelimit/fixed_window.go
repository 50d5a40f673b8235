package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/reqguard/internal/store"
)

// keyPrefix namespaces limiter keys so they never collide with the
// engine's failure counters in a shared store.
const keyPrefix = "rl:"

// FixedWindowLimiter implements fixed-window point consumption over a
// store.Store. Each identity gets a budget of limit points per window;
// the window key carries the window start so expired windows simply
// age out of the store.
type FixedWindowLimiter struct {
	store  store.Store
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewFixedWindowLimiter creates a new fixed window rate limiter.
func NewFixedWindowLimiter(s store.Store, limit int, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FixedWindowLimiter{
		store:  s,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// getWindowStart returns the start time of the current window.
func (l *FixedWindowLimiter) getWindowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// windowKey builds the store key for the given identity and window.
func (l *FixedWindowLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, key, windowStart.UnixNano())
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.getWindowStart(now)
	windowKey := l.windowKey(key, windowStart)

	currentCount, err := l.store.Get(ctx, windowKey)
	if err != nil && !store.IsKeyNotFound(err) {
		return nil, fmt.Errorf("rate limit check for %s failed: %w", key, err)
	}

	allowed := int(currentCount)+n <= l.limit

	if allowed {
		// Expiry buffer absorbs clock skew between nodes.
		expiration := l.window + time.Second
		newCount, err := l.store.IncrementWithExpiry(ctx, windowKey, int64(n), expiration)
		if err != nil {
			l.logger.Warn("failed to increment rate limit counter", zap.Error(err))
		} else {
			currentCount = newCount
		}
	}

	remaining := l.limit - int(currentCount)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	windowStart := l.getWindowStart(time.Now())
	if err := l.store.Delete(ctx, l.windowKey(key, windowStart)); err != nil {
		return fmt.Errorf("rate limit reset for %s failed: %w", key, err)
	}
	return nil
}

// GetLimit returns the limiter configuration.
func (l *FixedWindowLimiter) GetLimit() *Limit {
	return &Limit{
		Points: l.limit,
		Window: l.window,
	}
}

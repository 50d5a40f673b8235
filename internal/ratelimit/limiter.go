// Package ratelimit provides sliding-window admission control for the
// ingress path. It is deliberately independent of the monitoring
// engine's failure counter: the limiter throttles admission, the
// engine's threshold decides alerting.
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow consumes one point for the given key and reports whether
	// the request is admitted.
	Allow(ctx context.Context, key string) (*Result, error)

	// AllowN consumes n points for the given key.
	AllowN(ctx context.Context, key string, n int) (*Result, error)

	// Reset resets the rate limit state for the given key.
	Reset(ctx context.Context, key string) error
}

// Limit represents rate limit configuration.
type Limit struct {
	// Points is the maximum number of requests allowed in the window.
	Points int

	// Window is the replenishment window.
	Window time.Duration
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of requests remaining in the current
	// window.
	Remaining int

	// ResetAfter is the duration until the rate limit resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not
	// allowed).
	RetryAfter time.Duration
}

// NoopLimiter is a rate limiter that always allows requests.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(_ context.Context, _ string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// AllowN implements Limiter.
func (l *NoopLimiter) AllowN(ctx context.Context, key string, _ int) (*Result, error) {
	return l.Allow(ctx, key)
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(_ context.Context, _ string) error {
	return nil
}

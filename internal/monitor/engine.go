// Package monitor implements the abuse detection engine: per-identity
// failure counting inside a TTL window, threshold alerting, aggregated
// failure metrics behind a short-lived cache, and a rate limit check
// that is independent of the failure counter.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/reqguard/internal/notifier"
	"github.com/vyrodovalexey/reqguard/internal/observability"
	"github.com/vyrodovalexey/reqguard/internal/ratelimit"
	"github.com/vyrodovalexey/reqguard/internal/recorder"
	"github.com/vyrodovalexey/reqguard/internal/store"
)

// counterKeyPrefix namespaces per-identity failure counters.
const counterKeyPrefix = "failed:"

// ErrInvalidInput is returned when a required argument is empty or a
// query range is inverted.
var ErrInvalidInput = errors.New("invalid input")

// Settings are the tunables the engine reads on every operation. They
// are swapped atomically on config reload; in-flight operations finish
// with the settings they started with.
type Settings struct {
	// Window is the failure counting window per identity.
	Window time.Duration

	// Threshold is the failure count that triggers an alert.
	Threshold int

	// CacheTTL bounds the staleness of cached metrics results.
	CacheTTL time.Duration

	// Recipients receive threshold alerts.
	Recipients []string
}

// AlertEvent describes a threshold breach handed to the notifier.
type AlertEvent struct {
	Identity  string
	Attempts  int64
	Reason    string
	Timestamp time.Time
}

// Engine coordinates failure recording, threshold alerting, metrics
// aggregation and rate limiting.
type Engine struct {
	store    store.Store
	recorder recorder.Recorder
	notifier notifier.Notifier
	limiter  ratelimit.Limiter
	cache    *metricsCache
	logger   *zap.Logger
	metrics  *observability.Metrics

	settings atomic.Pointer[Settings]

	cleanupOnce sync.Once
	cleanupErr  error
}

// Options holds the engine dependencies.
type Options struct {
	Store    store.Store
	Recorder recorder.Recorder
	Notifier notifier.Notifier
	Limiter  ratelimit.Limiter
	Settings Settings
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// NewEngine creates a new engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if opts.Settings.Window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if opts.Settings.Threshold <= 0 {
		return nil, fmt.Errorf("threshold must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	n := opts.Notifier
	if n == nil {
		n = notifier.NewNopNotifier()
	}

	l := opts.Limiter
	if l == nil {
		l = ratelimit.NewNoopLimiter()
	}

	m := opts.Metrics
	if m == nil {
		m = observability.NewMetrics("")
	}

	e := &Engine{
		store:    opts.Store,
		recorder: opts.Recorder,
		notifier: n,
		limiter:  l,
		cache:    newMetricsCache(opts.Store, logger),
		logger:   logger,
		metrics:  m,
	}

	settings := opts.Settings
	e.settings.Store(&settings)

	return e, nil
}

// UpdateSettings atomically swaps the engine tunables. Counters already
// running keep the expiry they were created with; the new window
// applies to counters created afterwards.
func (e *Engine) UpdateSettings(settings Settings) error {
	if settings.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if settings.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive")
	}

	e.settings.Store(&settings)
	e.logger.Info("engine settings updated",
		zap.Duration("window", settings.Window),
		zap.Int("threshold", settings.Threshold),
		zap.Duration("cacheTTL", settings.CacheTTL))

	return nil
}

// Settings returns the current engine tunables.
func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

func counterKey(identity string) string {
	return counterKeyPrefix + identity
}

// RecordFailure persists a failure record, invalidates cached metrics,
// advances the identity's window counter and alerts when the counter
// reaches the threshold. When alert delivery fails the counter is left
// in place, so the next failure inside the window retries the alert.
func (e *Engine) RecordFailure(ctx context.Context, identity, reason, endpoint string, requestContext map[string]string) error {
	if identity == "" {
		return fmt.Errorf("%w: identity must not be empty", ErrInvalidInput)
	}
	if reason == "" {
		return fmt.Errorf("%w: reason must not be empty", ErrInvalidInput)
	}

	s := e.settings.Load()

	rec := &recorder.FailureRecord{
		Identity: identity,
		Reason:   reason,
		Endpoint: endpoint,
		Context:  requestContext,
	}
	if err := e.recorder.Create(ctx, rec); err != nil {
		return fmt.Errorf("persist failure record for %s: %w", identity, err)
	}

	e.metrics.RecordFailure(reason)

	// Best effort: a failed invalidation leaves entries that expire
	// within the cache TTL anyway.
	if err := e.cache.InvalidateAll(ctx); err != nil {
		e.logger.Warn("metrics cache invalidation failed",
			zap.String("identity", identity),
			zap.Error(err))
	}

	count, err := e.store.IncrementWithExpiry(ctx, counterKey(identity), 1, s.Window)
	if err != nil {
		return fmt.Errorf("increment failure counter for %s: %w", identity, err)
	}

	if count < int64(s.Threshold) {
		return nil
	}

	event := AlertEvent{
		Identity:  identity,
		Attempts:  count,
		Reason:    reason,
		Timestamp: rec.Timestamp,
	}

	if err := e.sendAlert(ctx, event, s); err != nil {
		e.metrics.RecordAlertFailed()
		return fmt.Errorf("send alert for %s: %w", identity, err)
	}

	e.metrics.RecordAlertSent()

	// Reset the window so the identity must fail threshold more times
	// before the next alert. A failed delete only risks an extra alert,
	// which is acceptable.
	if err := e.store.Delete(ctx, counterKey(identity)); err != nil && !store.IsKeyNotFound(err) {
		e.logger.Warn("failed to reset failure counter after alert",
			zap.String("identity", identity),
			zap.Error(err))
	}

	return nil
}

func (e *Engine) sendAlert(ctx context.Context, event AlertEvent, s *Settings) error {
	subject := fmt.Sprintf("Alert: suspicious activity from %s", event.Identity)
	body := fmt.Sprintf(
		"Suspicious activity detected.\r\n\r\n"+
			"Identity: %s\r\n"+
			"Failed attempts: %d\r\n"+
			"Window: %s\r\n"+
			"Last reason: %s\r\n"+
			"Time: %s\r\n",
		event.Identity,
		event.Attempts,
		s.Window,
		event.Reason,
		event.Timestamp.UTC().Format(time.RFC3339),
	)

	if err := e.notifier.Send(ctx, s.Recipients, subject, body); err != nil {
		return err
	}

	e.logger.Info("threshold alert delivered",
		zap.String("identity", event.Identity),
		zap.Int64("attempts", event.Attempts))

	return nil
}

// GetMetrics returns failure records aggregated by (identity, reason)
// for the given range, sorted by count descending. Either bound may be
// nil; both are inclusive. Results are served from the cache when a
// fresh entry exists for the exact range.
func (e *Engine) GetMetrics(ctx context.Context, start, end *time.Time) ([]AggregatedGroup, error) {
	if start != nil && end != nil && end.Before(*start) {
		return nil, fmt.Errorf("%w: end time is before start time", ErrInvalidInput)
	}

	key := cacheKey(start, end)

	groups, err := e.cache.Get(ctx, key)
	if err == nil {
		e.metrics.RecordCacheHit()
		return groups, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		e.logger.Warn("metrics cache read failed", zap.Error(err))
	}

	e.metrics.RecordCacheMiss()

	records, err := e.recorder.QueryRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("query failure records: %w", err)
	}

	groups = aggregateRecords(records)

	s := e.settings.Load()
	if s.CacheTTL > 0 {
		if err := e.cache.Set(ctx, key, groups, s.CacheTTL); err != nil {
			e.logger.Warn("metrics cache write failed", zap.Error(err))
		}
	}

	return groups, nil
}

// CheckRateLimit consumes one point for the identity and reports
// whether the request breached the limit. The limiter state is fully
// separate from the failure counter: a throttled request does not
// count as a failure, and failures do not consume limiter points.
func (e *Engine) CheckRateLimit(ctx context.Context, identity string) (bool, error) {
	if identity == "" {
		return false, fmt.Errorf("%w: identity must not be empty", ErrInvalidInput)
	}

	result, err := e.limiter.Allow(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", identity, err)
	}

	if !result.Allowed {
		e.metrics.RecordRateLimitHit()
		e.logger.Debug("rate limit breached",
			zap.String("identity", identity),
			zap.Duration("retryAfter", result.RetryAfter))
	}

	return !result.Allowed, nil
}

// Cleanup releases the engine's resources. Safe to call more than
// once; later calls return the first result.
func (e *Engine) Cleanup() error {
	e.cleanupOnce.Do(func() {
		var errs []error

		if err := e.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
		if err := e.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recorder: %w", err))
		}
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}

		e.cleanupErr = errors.Join(errs...)
	})

	return e.cleanupErr
}

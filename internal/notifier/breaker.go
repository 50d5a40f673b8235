package notifier

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerNotifier wraps a Notifier with a circuit breaker so a dead
// SMTP relay fails fast instead of stalling request handlers. A failed
// Send is still surfaced to the engine, which leaves the window
// counter in place and retries on the next failure.
type BreakerNotifier struct {
	inner  Notifier
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// BreakerConfig holds configuration for the notifier circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens
	// the breaker.
	MaxFailures int

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// Logger for state transitions.
	Logger *zap.Logger
}

// NewBreakerNotifier wraps the given notifier with a circuit breaker.
func NewBreakerNotifier(inner Notifier, cfg BreakerConfig) *BreakerNotifier {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "alert-notifier",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("notifier circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &BreakerNotifier{
		inner:  inner,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// Send implements Notifier.
func (b *BreakerNotifier) Send(ctx context.Context, recipients []string, subject, body string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Send(ctx, recipients, subject, body)
	})
	return err
}

// Close implements Notifier.
func (b *BreakerNotifier) Close() error {
	return b.inner.Close()
}

package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingNotifier fails a fixed number of times, then succeeds.
type failingNotifier struct {
	failures int
	calls    int
	closed   bool
}

func (f *failingNotifier) Send(_ context.Context, _ []string, _, _ string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("relay unavailable")
	}
	return nil
}

func (f *failingNotifier) Close() error {
	f.closed = true
	return nil
}

func TestBreakerNotifier_PassesThroughSuccess(t *testing.T) {
	inner := &failingNotifier{}
	b := NewBreakerNotifier(inner, BreakerConfig{})

	err := b.Send(context.Background(), []string{"ops@example.com"}, "s", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestBreakerNotifier_SurfacesInnerError(t *testing.T) {
	inner := &failingNotifier{failures: 1}
	b := NewBreakerNotifier(inner, BreakerConfig{})

	err := b.Send(context.Background(), []string{"ops@example.com"}, "s", "b")
	require.Error(t, err)
}

func TestBreakerNotifier_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingNotifier{failures: 100}
	b := NewBreakerNotifier(inner, BreakerConfig{MaxFailures: 3, Timeout: time.Minute})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.Error(t, b.Send(ctx, []string{"ops@example.com"}, "s", "b"))
	}
	assert.Equal(t, 3, inner.calls)

	// Open breaker rejects without reaching the transport.
	require.Error(t, b.Send(ctx, []string{"ops@example.com"}, "s", "b"))
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerNotifier_RecoversAfterTimeout(t *testing.T) {
	inner := &failingNotifier{failures: 2}
	b := NewBreakerNotifier(inner, BreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond})

	ctx := context.Background()
	require.Error(t, b.Send(ctx, []string{"ops@example.com"}, "s", "b"))
	require.Error(t, b.Send(ctx, []string{"ops@example.com"}, "s", "b"))

	time.Sleep(80 * time.Millisecond)

	// Half-open probe goes through and succeeds.
	require.NoError(t, b.Send(ctx, []string{"ops@example.com"}, "s", "b"))
}

func TestBreakerNotifier_ClosesInner(t *testing.T) {
	inner := &failingNotifier{}
	b := NewBreakerNotifier(inner, BreakerConfig{})

	require.NoError(t, b.Close())
	assert.True(t, inner.closed)
}

// Package notifier delivers one-shot abuse alerts. The SMTP transport
// is the production implementation; a Notifier seam keeps the engine
// testable and allows a circuit breaker to wrap any transport.
package notifier

import "context"

// Notifier defines the interface for alert delivery.
type Notifier interface {
	// Send delivers a message to the given recipients. It fails when
	// the transport is unreachable or rejects the message.
	Send(ctx context.Context, recipients []string, subject, body string) error

	// Close releases the transport.
	Close() error
}

// NopNotifier discards all alerts. Used when SMTP is disabled.
type NopNotifier struct{}

// NewNopNotifier creates a notifier that discards alerts.
func NewNopNotifier() *NopNotifier {
	return &NopNotifier{}
}

// Send implements Notifier.
func (n *NopNotifier) Send(_ context.Context, _ []string, _, _ string) error {
	return nil
}

// Close implements Notifier.
func (n *NopNotifier) Close() error {
	return nil
}

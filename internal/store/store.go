// Package store provides key-value storage with per-key expiry for
// failure counters and cached metrics. Backends: Redis for distributed
// deployments, in-memory for tests and single-node use.
package store

import (
	"context"
	"time"
)

// Store defines the interface for counter and value storage.
type Store interface {
	// Get retrieves the counter value for the given key.
	Get(ctx context.Context, key string) (int64, error)

	// Increment increments the counter for the given key by delta.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// IncrementWithExpiry increments the counter and sets the
	// expiration if the key is new. The two steps are atomic: a key
	// created by the increment always receives the expiry exactly once.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// Expire updates the expiration of an existing key.
	Expire(ctx context.Context, key string, expiration time.Duration) error

	// SetBytes stores a raw value with an expiration.
	SetBytes(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// GetBytes retrieves a raw value.
	GetBytes(ctx context.Context, key string) ([]byte, error)

	// Keys lists all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// Close closes the store and releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is not found in the store.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsKeyNotFound returns true if the error is a key not found error.
func IsKeyNotFound(err error) bool {
	_, ok := err.(*ErrKeyNotFound)
	return ok
}

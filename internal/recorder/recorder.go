// Package recorder persists a durable record of each failed request
// for later aggregation. Records carry their own retention: the store
// expires them automatically after the configured horizon, so the
// engine never has to purge.
package recorder

import (
	"context"
	"time"
)

// FailureRecord is one failed validation attempt. Records are created
// once and never mutated.
type FailureRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// Identity is the client address the failure is attributed to.
	Identity string `json:"identity"`

	// Reason is a short classification of why the request failed.
	Reason string `json:"reason"`

	// Endpoint is the request path that failed validation.
	Endpoint string `json:"endpoint"`

	// Context carries request headers or other metadata, stored
	// verbatim.
	Context map[string]string `json:"context,omitempty"`

	// Timestamp is the creation time.
	Timestamp time.Time `json:"timestamp"`
}

// Recorder defines the interface for failure record persistence.
type Recorder interface {
	// Create persists a new failure record.
	Create(ctx context.Context, record *FailureRecord) error

	// QueryRange returns all records with a timestamp within
	// [start, end]. Either bound may be nil, meaning unbounded on
	// that side. Both bounds are inclusive.
	QueryRange(ctx context.Context, start, end *time.Time) ([]*FailureRecord, error)

	// Close closes the recorder and releases resources.
	Close() error
}

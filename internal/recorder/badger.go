package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// recordKeyPrefix namespaces failure records in the database. Keys are
// built from the zero-padded creation timestamp so iteration order is
// chronological.
const recordKeyPrefix = "rec:"

// Config holds configuration for the Badger-backed recorder.
type Config struct {
	// Path is the directory for database files. Ignored when
	// InMemory is set.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// Retention is how long records live before the store expires
	// them. Default 720h (30 days).
	Retention time.Duration

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// Logger for recorder operations.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		Retention:  720 * time.Hour,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory:  true,
		Retention: 720 * time.Hour,
	}
}

// BadgerRecorder implements Recorder using BadgerDB. Per-record TTL
// enforces the retention policy inside the store.
type BadgerRecorder struct {
	db        *badger.DB
	retention time.Duration
	logger    *zap.Logger
	done      chan struct{}
}

// NewBadgerRecorder opens the database and starts the GC loop.
func NewBadgerRecorder(cfg Config) (*BadgerRecorder, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = 720 * time.Hour
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("recorder path is required for persistent storage")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create recorder directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open record database: %w", err)
	}

	r := &BadgerRecorder{
		db:        db,
		retention: retention,
		logger:    logger,
		done:      make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		go r.runGC(cfg.GCInterval)
	}

	return r, nil
}

// recordKey builds a chronologically ordered key. The uuid suffix
// disambiguates records created in the same nanosecond.
func recordKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", recordKeyPrefix, ts.UnixNano(), id))
}

// Create implements Recorder. A missing ID or Timestamp is filled in.
func (r *BadgerRecorder) Create(ctx context.Context, record *FailureRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before record create: %w", err)
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(recordKey(record.Timestamp, record.ID), data).
			WithTTL(r.retention)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to persist record for %s: %w", record.Identity, err)
	}

	return nil
}

// QueryRange implements Recorder. Iteration starts at the lower bound
// when one is given; the upper bound stops iteration early since keys
// are in timestamp order.
func (r *BadgerRecorder) QueryRange(ctx context.Context, start, end *time.Time) ([]*FailureRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before record query: %w", err)
	}

	var records []*FailureRecord

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(recordKeyPrefix)
		if start != nil {
			seek = []byte(fmt.Sprintf("%s%020d", recordKeyPrefix, start.UnixNano()))
		}

		for it.Seek(seek); it.Valid(); it.Next() {
			var rec FailureRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}

			if end != nil && rec.Timestamp.After(*end) {
				break
			}
			if start != nil && rec.Timestamp.Before(*start) {
				continue
			}

			records = append(records, &rec)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record query failed: %w", err)
	}

	return records, nil
}

// Close implements Recorder.
func (r *BadgerRecorder) Close() error {
	select {
	case <-r.done:
		return nil
	default:
	}
	close(r.done)
	return r.db.Close()
}

// runGC periodically reclaims value log space.
func (r *BadgerRecorder) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is
			// nothing to collect; loop while it makes progress.
			for {
				if err := r.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		case <-r.done:
			return
		}
	}
}

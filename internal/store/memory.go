package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// maxCASRetries is the maximum number of CAS retry attempts to prevent
// infinite spinning under high contention.
const maxCASRetries = 100

// entry represents a stored value with expiration. Counter entries use
// num; raw entries use raw. A key holds one kind at a time.
type entry struct {
	num        int64
	raw        []byte
	expiration time.Time
}

// expired reports whether the entry has passed its expiration.
func (e *entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// MemoryStore implements Store using in-memory storage.
type MemoryStore struct {
	data    sync.Map
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a new in-memory store with
// a custom cleanup interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	value, ok := s.data.Load(key)
	if !ok {
		return 0, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)

	if e.expired(time.Now()) {
		s.data.Delete(key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return e.num, nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.incrementInternal(ctx, key, delta, 0)
}

// IncrementWithExpiry implements Store. The expiration is applied only
// when the increment creates the key; an existing entry keeps its
// original expiry, matching Redis EXPIRE-on-create semantics.
func (s *MemoryStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	return s.incrementInternal(ctx, key, delta, expiration)
}

func (s *MemoryStore) incrementInternal(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	for retries := 0; retries < maxCASRetries; retries++ {
		value, ok := s.data.Load(key)
		if !ok {
			newEntry := &entry{num: delta, expiration: exp}
			if actual, loaded := s.data.LoadOrStore(key, newEntry); loaded {
				// Another goroutine created it, fall through to CAS
				value = actual
			} else {
				return delta, nil
			}
		}

		e := value.(*entry)

		// An expired entry is replaced as if freshly created, which
		// restarts the expiry window.
		if e.expired(time.Now()) {
			newEntry := &entry{num: delta, expiration: exp}
			if s.data.CompareAndSwap(key, e, newEntry) {
				return delta, nil
			}
			continue
		}

		newEntry := &entry{
			num:        e.num + delta,
			expiration: e.expiration,
		}

		if s.data.CompareAndSwap(key, e, newEntry) {
			return newEntry.num, nil
		}
		// CAS failed, retry
	}

	return 0, fmt.Errorf("increment failed: max retries (%d) exceeded", maxCASRetries)
}

// Expire implements Store.
func (s *MemoryStore) Expire(ctx context.Context, key string, expiration time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	for retries := 0; retries < maxCASRetries; retries++ {
		value, ok := s.data.Load(key)
		if !ok {
			return &ErrKeyNotFound{Key: key}
		}

		e := value.(*entry)
		if e.expired(time.Now()) {
			s.data.Delete(key)
			return &ErrKeyNotFound{Key: key}
		}

		newEntry := &entry{num: e.num, raw: e.raw, expiration: exp}
		if s.data.CompareAndSwap(key, e, newEntry) {
			return nil
		}
	}

	return fmt.Errorf("expire failed: max retries (%d) exceeded", maxCASRetries)
}

// SetBytes implements Store.
func (s *MemoryStore) SetBytes(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	s.data.Store(key, &entry{raw: value, expiration: exp})

	return nil
}

// GetBytes implements Store.
func (s *MemoryStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	value, ok := s.data.Load(key)
	if !ok {
		return nil, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)

	if e.expired(time.Now()) {
		s.data.Delete(key)
		return nil, &ErrKeyNotFound{Key: key}
	}

	return e.raw, nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	now := time.Now()
	var keys []string
	s.data.Range(func(key, value interface{}) bool {
		k := key.(string)
		if !strings.HasPrefix(k, prefix) {
			return true
		}
		if value.(*entry).expired(now) {
			return true
		}
		keys = append(keys, k)
		return true
	})

	return keys, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.data.Delete(key)
	return nil
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cleanup.Stop()
	close(s.done)

	return nil
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.C:
			s.cleanupExpired()
		case <-s.done:
			return
		}
	}
}

// cleanupExpired removes all expired entries.
func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.data.Range(func(key, value interface{}) bool {
		if value.(*entry).expired(now) {
			s.data.Delete(key)
		}
		return true
	})
}

// Size returns the number of entries in the store.
func (s *MemoryStore) Size() int {
	count := 0
	s.data.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

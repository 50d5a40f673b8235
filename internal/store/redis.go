package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Prometheus metrics for Redis store operations
var (
	redisStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_store_operations_total",
			Help: "Total number of Redis store operations",
		},
		[]string{"operation", "status"},
	)

	redisStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_store_operation_duration_seconds",
			Help:    "Duration of Redis store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// incrementWithExpiryScript is the Lua script for atomic increment with
// expiry. The expiry is applied only when the increment created the key
// (the result equals the delta), so concurrent increments from many
// handlers set it exactly once per fresh key.
// KEYS[1] = key
// ARGV[1] = delta
// ARGV[2] = expiration in seconds
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	closed bool
	mu     sync.Mutex
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *zap.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		Prefix:       "reqguard:",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis store and verifies the connection.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", config.Address, err)
	}

	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		logger: logger,
	}, nil
}

// prefixKey adds the prefix to the key.
func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis get: %w", err)
	}

	val, err := s.client.Get(ctx, s.prefixKey(key)).Result()

	redisStoreOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err == redis.Nil {
		redisStoreOperationsTotal.WithLabelValues("get", "not_found").Inc()
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("redis get error: %w", err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("failed to parse value: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("get", "success").Inc()
	return n, nil
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis incr: %w", err)
	}

	val, err := s.client.IncrBy(ctx, s.prefixKey(key), delta).Result()

	redisStoreOperationDuration.WithLabelValues("increment").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("increment", "error").Inc()
		return 0, fmt.Errorf("redis incr error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("increment", "success").Inc()
	return val, nil
}

// IncrementWithExpiry implements Store using a Lua script for atomicity.
func (s *RedisStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis incr with expiry: %w", err)
	}

	prefixedKey := s.prefixKey(key)
	expirationSecs := int64(expiration.Seconds())
	if expirationSecs < 1 {
		expirationSecs = 1
	}

	result, err := incrementWithExpiryScript.Run(ctx, s.client, []string{prefixedKey}, delta, expirationSecs).Result()

	redisStoreOperationDuration.WithLabelValues("increment_with_expiry").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis script error: %w", err)
	}

	// Safe type assertion to prevent panic
	val, ok := result.(int64)
	if !ok {
		redisStoreOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis script returned unexpected type: %T", result)
	}

	redisStoreOperationsTotal.WithLabelValues("increment_with_expiry", "success").Inc()
	return val, nil
}

// Expire implements Store.
func (s *RedisStore) Expire(ctx context.Context, key string, expiration time.Duration) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis expire: %w", err)
	}

	err := s.client.Expire(ctx, s.prefixKey(key), expiration).Err()

	redisStoreOperationDuration.WithLabelValues("expire").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("expire", "error").Inc()
		return fmt.Errorf("redis expire error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("expire", "success").Inc()
	return nil
}

// SetBytes implements Store.
func (s *RedisStore) SetBytes(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis set: %w", err)
	}

	err := s.client.Set(ctx, s.prefixKey(key), value, expiration).Err()

	redisStoreOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("redis set error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("set", "success").Inc()
	return nil
}

// GetBytes implements Store.
func (s *RedisStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before redis get: %w", err)
	}

	val, err := s.client.Get(ctx, s.prefixKey(key)).Bytes()

	redisStoreOperationDuration.WithLabelValues("get_bytes").Observe(time.Since(start).Seconds())

	if err == redis.Nil {
		redisStoreOperationsTotal.WithLabelValues("get_bytes", "not_found").Inc()
		return nil, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("get_bytes", "error").Inc()
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("get_bytes", "success").Inc()
	return val, nil
}

// Keys implements Store. It iterates with SCAN rather than KEYS to
// avoid blocking the server on large keyspaces. Returned keys have the
// store prefix stripped.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before redis scan: %w", err)
	}

	var keys []string
	fullPrefix := s.prefixKey(prefix)
	iter := s.client.Scan(ctx, 0, fullPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.prefix):])
	}

	redisStoreOperationDuration.WithLabelValues("keys").Observe(time.Since(start).Seconds())

	if err := iter.Err(); err != nil {
		redisStoreOperationsTotal.WithLabelValues("keys", "error").Inc()
		return nil, fmt.Errorf("redis scan error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("keys", "success").Inc()
	return keys, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis del: %w", err)
	}

	err := s.client.Del(ctx, s.prefixKey(key)).Err()

	redisStoreOperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis del error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// Close implements Store. Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

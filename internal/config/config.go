// Package config provides configuration management for the abuse
// monitoring service. Configuration is loaded from a YAML file with
// environment variable substitution; defaults match the reference
// deployment (10 minute window, 5 failures, 5 minute cache TTL).
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the service.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Recorder   RecorderConfig   `json:"recorder" yaml:"recorder"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`
	RateLimit  RateLimitConfig  `json:"rateLimit" yaml:"rateLimit"`
	SMTP       SMTPConfig       `json:"smtp" yaml:"smtp"`

	// AlertRecipients receive threshold alert emails.
	AlertRecipients []string `json:"alertRecipients" yaml:"alertRecipients"`

	// AuthToken is the bearer token accepted by the submit endpoint.
	AuthToken string `json:"authToken" yaml:"authToken"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `json:"port" yaml:"port"`
	Address         string   `json:"address" yaml:"address"`
	ReadTimeout     Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    Duration `json:"writeTimeout" yaml:"writeTimeout"`
	IdleTimeout     Duration `json:"idleTimeout" yaml:"idleTimeout"`
	ShutdownTimeout Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
}

// StoreType identifies a counter store backend.
type StoreType string

const (
	// StoreTypeMemory selects the in-process store.
	StoreTypeMemory StoreType = "memory"

	// StoreTypeRedis selects the Redis-backed store.
	StoreTypeRedis StoreType = "redis"
)

// StoreConfig holds counter store settings.
type StoreConfig struct {
	Type StoreType `json:"type" yaml:"type"`

	// Redis settings, used when Type is "redis".
	RedisAddress  string   `json:"redisAddress" yaml:"redisAddress"`
	RedisPassword string   `json:"redisPassword" yaml:"redisPassword"`
	RedisDB       int      `json:"redisDB" yaml:"redisDB"`
	KeyPrefix     string   `json:"keyPrefix" yaml:"keyPrefix"`
	DialTimeout   Duration `json:"dialTimeout" yaml:"dialTimeout"`
	ReadTimeout   Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout  Duration `json:"writeTimeout" yaml:"writeTimeout"`
	PoolSize      int      `json:"poolSize" yaml:"poolSize"`
}

// RecorderConfig holds failure record persistence settings.
type RecorderConfig struct {
	// Path is the directory for the record database. Ignored when
	// InMemory is set.
	Path string `json:"path" yaml:"path"`

	// InMemory disables disk persistence. Used in tests.
	InMemory bool `json:"inMemory" yaml:"inMemory"`

	// Retention is how long failure records are kept before the
	// store expires them. Default 720h (30 days).
	Retention Duration `json:"retention" yaml:"retention"`
}

// MonitoringConfig holds the engine's alerting settings.
type MonitoringConfig struct {
	// TimeWindowMinutes is the length of the failure counting window.
	TimeWindowMinutes int `json:"timeWindowMinutes" yaml:"timeWindowMinutes"`

	// MaxFailedAttempts is the failure count that triggers an alert.
	MaxFailedAttempts int `json:"maxFailedAttempts" yaml:"maxFailedAttempts"`

	// MetricsCacheTTL bounds staleness of cached aggregations.
	MetricsCacheTTL Duration `json:"metricsCacheTTL" yaml:"metricsCacheTTL"`
}

// RateLimitConfig holds admission rate limiter settings.
type RateLimitConfig struct {
	// Points is the number of requests allowed per identity per window.
	Points int `json:"points" yaml:"points"`

	// Duration is the replenishment window.
	Duration Duration `json:"duration" yaml:"duration"`
}

// SMTPConfig holds alert transport settings.
type SMTPConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	From     string `json:"from" yaml:"from"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Store: StoreConfig{
			Type:         StoreTypeMemory,
			RedisAddress: "localhost:6379",
			KeyPrefix:    "reqguard:",
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(3 * time.Second),
			WriteTimeout: Duration(3 * time.Second),
			PoolSize:     10,
		},
		Recorder: RecorderConfig{
			Path:      "data/records",
			Retention: Duration(720 * time.Hour),
		},
		Monitoring: MonitoringConfig{
			TimeWindowMinutes: 10,
			MaxFailedAttempts: 5,
			MetricsCacheTTL:   Duration(300 * time.Second),
		},
		RateLimit: RateLimitConfig{
			Points:   5,
			Duration: Duration(600 * time.Second),
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Store.Type != StoreTypeMemory && c.Store.Type != StoreTypeRedis {
		return fmt.Errorf("unknown store type: %q", c.Store.Type)
	}
	if c.Store.Type == StoreTypeRedis && c.Store.RedisAddress == "" {
		return fmt.Errorf("redis address is required for the redis store")
	}
	if c.Monitoring.TimeWindowMinutes <= 0 {
		return fmt.Errorf("timeWindowMinutes must be positive, got %d", c.Monitoring.TimeWindowMinutes)
	}
	if c.Monitoring.MaxFailedAttempts <= 0 {
		return fmt.Errorf("maxFailedAttempts must be positive, got %d", c.Monitoring.MaxFailedAttempts)
	}
	if c.Monitoring.MetricsCacheTTL <= 0 {
		return fmt.Errorf("metricsCacheTTL must be positive")
	}
	if c.RateLimit.Points <= 0 {
		return fmt.Errorf("rateLimit points must be positive, got %d", c.RateLimit.Points)
	}
	if c.RateLimit.Duration <= 0 {
		return fmt.Errorf("rateLimit duration must be positive")
	}
	if c.Recorder.Retention <= 0 {
		return fmt.Errorf("recorder retention must be positive")
	}
	if !c.Recorder.InMemory && c.Recorder.Path == "" {
		return fmt.Errorf("recorder path is required for persistent storage")
	}
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp host is required when smtp is enabled")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("invalid smtp port: %d", c.SMTP.Port)
		}
		if len(c.AlertRecipients) == 0 {
			return fmt.Errorf("alertRecipients is required when smtp is enabled")
		}
	}
	return nil
}

// Window returns the failure counting window as a time.Duration.
func (m MonitoringConfig) Window() time.Duration {
	return time.Duration(m.TimeWindowMinutes) * time.Minute
}

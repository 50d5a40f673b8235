// Package main is the entry point for the reqguard abuse monitoring
// service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/reqguard/internal/config"
	"github.com/vyrodovalexey/reqguard/internal/monitor"
	"github.com/vyrodovalexey/reqguard/internal/notifier"
	"github.com/vyrodovalexey/reqguard/internal/observability"
	"github.com/vyrodovalexey/reqguard/internal/ratelimit"
	"github.com/vyrodovalexey/reqguard/internal/recorder"
	"github.com/vyrodovalexey/reqguard/internal/server"
	"github.com/vyrodovalexey/reqguard/internal/store"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)

	if err := run(cfg, flags.configPath, logger); err != nil {
		logger.Fatal("service failed", observability.Error(err))
	}
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("REQGUARD_CONFIG_PATH", "configs/reqguard.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("REQGUARD_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("REQGUARD_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("reqguard version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting reqguard",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	return cfg
}

// buildStore selects the counter store backend.
func buildStore(cfg *config.Config, logger observability.Logger) (store.Store, error) {
	switch cfg.Store.Type {
	case config.StoreTypeRedis:
		return store.NewRedisStore(&store.RedisConfig{
			Address:      cfg.Store.RedisAddress,
			Password:     cfg.Store.RedisPassword,
			DB:           cfg.Store.RedisDB,
			Prefix:       cfg.Store.KeyPrefix,
			PoolSize:     cfg.Store.PoolSize,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  cfg.Store.DialTimeout.Duration(),
			ReadTimeout:  cfg.Store.ReadTimeout.Duration(),
			WriteTimeout: cfg.Store.WriteTimeout.Duration(),
			Logger:       logger.Zap(),
		})
	default:
		return store.NewMemoryStore(), nil
	}
}

// buildNotifier assembles the alert delivery chain: SMTP behind a
// circuit breaker, or a no-op notifier when SMTP is disabled.
func buildNotifier(cfg *config.Config, logger observability.Logger) (notifier.Notifier, error) {
	if !cfg.SMTP.Enabled {
		logger.Warn("smtp disabled, threshold alerts will be dropped")
		return notifier.NewNopNotifier(), nil
	}

	smtpNotifier, err := notifier.NewSMTPNotifier(notifier.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Logger:   logger.Zap(),
	})
	if err != nil {
		return nil, fmt.Errorf("smtp notifier: %w", err)
	}

	return notifier.NewBreakerNotifier(smtpNotifier, notifier.BreakerConfig{
		Logger: logger.Zap(),
	}), nil
}

func engineSettings(cfg *config.Config) monitor.Settings {
	return monitor.Settings{
		Window:     cfg.Monitoring.Window(),
		Threshold:  cfg.Monitoring.MaxFailedAttempts,
		CacheTTL:   cfg.Monitoring.MetricsCacheTTL.Duration(),
		Recipients: cfg.AlertRecipients,
	}
}

// run wires the service together and blocks until shutdown.
func run(cfg *config.Config, configPath string, logger observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	counterStore, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("counter store: %w", err)
	}

	failureRecorder, err := recorder.NewBadgerRecorder(recorder.Config{
		Path:       cfg.Recorder.Path,
		InMemory:   cfg.Recorder.InMemory,
		Retention:  cfg.Recorder.Retention.Duration(),
		GCInterval: recorder.DefaultConfig().GCInterval,
		Logger:     logger.Zap(),
	})
	if err != nil {
		_ = counterStore.Close()
		return fmt.Errorf("failure recorder: %w", err)
	}

	alertNotifier, err := buildNotifier(cfg, logger)
	if err != nil {
		_ = failureRecorder.Close()
		_ = counterStore.Close()
		return fmt.Errorf("alert notifier: %w", err)
	}

	limiter := ratelimit.NewFixedWindowLimiter(
		counterStore,
		cfg.RateLimit.Points,
		cfg.RateLimit.Duration.Duration(),
		logger.Zap(),
	)

	metrics := observability.NewMetrics("reqguard")

	engine, err := monitor.NewEngine(monitor.Options{
		Store:    counterStore,
		Recorder: failureRecorder,
		Notifier: alertNotifier,
		Limiter:  limiter,
		Settings: engineSettings(cfg),
		Logger:   logger.Zap(),
		Metrics:  metrics,
	})
	if err != nil {
		_ = alertNotifier.Close()
		_ = failureRecorder.Close()
		_ = counterStore.Close()
		return fmt.Errorf("engine: %w", err)
	}
	defer func() {
		if err := engine.Cleanup(); err != nil {
			logger.Error("cleanup failed", observability.Error(err))
		}
	}()

	httpServer := server.NewServer(cfg.Server, cfg.AuthToken, engine, logger.Zap(), metrics)

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		if err := engine.UpdateSettings(engineSettings(newCfg)); err != nil {
			logger.Error("failed to apply reloaded settings", observability.Error(err))
			return
		}
		httpServer.SetAuthToken(newCfg.AuthToken)
		logger.Info("configuration reloaded")
	}, config.WithLogger(logger))
	if err != nil {
		logger.Warn("config watcher unavailable, hot reload disabled",
			observability.Error(err))
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("failed to start config watcher", observability.Error(err))
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", observability.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	return nil
}

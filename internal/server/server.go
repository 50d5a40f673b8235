// Package server exposes the abuse monitoring engine over HTTP: a
// submit endpoint that validates bearer tokens and records failures,
// a metrics endpoint for aggregated failure counts, health and
// Prometheus endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/reqguard/internal/config"
	"github.com/vyrodovalexey/reqguard/internal/monitor"
	"github.com/vyrodovalexey/reqguard/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Server is the HTTP front end of the monitoring engine.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	monitor    *monitor.Engine
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.ServerConfig

	authToken atomic.Pointer[string]

	mu      sync.Mutex
	running bool
}

// NewServer creates a new HTTP server around the given engine.
func NewServer(cfg config.ServerConfig, authToken string, eng *monitor.Engine, logger *zap.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewMetrics("")
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:  gin.New(),
		monitor: eng,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
	}
	s.authToken.Store(&authToken)

	s.engine.Use(s.recoveryMiddleware())
	s.engine.Use(s.requestMiddleware())

	s.registerRoutes()

	return s
}

// SetAuthToken swaps the accepted bearer token. Used on config reload.
func (s *Server) SetAuthToken(token string) {
	s.authToken.Store(&token)
}

func (s *Server) currentAuthToken() string {
	return *s.authToken.Load()
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.POST("/submit", s.handleSubmit)
	api.GET("/metrics", s.handleMetrics)

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// Engine returns the underlying gin engine. Used in tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout.Duration(),
		WriteTimeout: s.cfg.WriteTimeout.Duration(),
		IdleTimeout:  s.cfg.IdleTimeout.Duration(),
	}

	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		zap.String("address", addr),
		zap.Duration("readTimeout", s.cfg.ReadTimeout.Duration()),
		zap.Duration("writeTimeout", s.cfg.WriteTimeout.Duration()),
	)

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

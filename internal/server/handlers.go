package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/reqguard/internal/monitor"
)

// failureReasonInvalidToken classifies submit requests rejected for a
// missing or wrong bearer token.
const failureReasonInvalidToken = "Invalid access token"

// handleSubmit validates the bearer token of a submit request. The
// rate limit is checked first and throttled requests are rejected
// without touching the failure counter. An invalid token is recorded
// as a failure and may trigger an alert.
func (s *Server) handleSubmit(c *gin.Context) {
	identity := c.ClientIP()

	// A broken limiter fails open: admission control is protection,
	// not a correctness dependency.
	limited, err := s.monitor.CheckRateLimit(c.Request.Context(), identity)
	if err != nil {
		s.logger.Warn("rate limit check failed",
			zap.String("identity", identity),
			zap.Error(err))
		limited = false
	}
	if limited {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}

	if s.tokenValid(c.GetHeader("Authorization")) {
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
		return
	}

	requestContext := map[string]string{
		"userAgent": c.GetHeader("User-Agent"),
		"method":    c.Request.Method,
	}

	if err := s.monitor.RecordFailure(c.Request.Context(), identity, failureReasonInvalidToken, c.FullPath(), requestContext); err != nil {
		if errors.Is(err, monitor.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		s.logger.Error("failed to record failure",
			zap.String("identity", identity),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})
}

// tokenValid checks the Authorization header against the configured
// token. An empty configured token rejects everything.
func (s *Server) tokenValid(header string) bool {
	expected := s.currentAuthToken()
	if expected == "" {
		return false
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// handleMetrics returns failure records aggregated by identity and
// reason, optionally restricted to an inclusive time range given as
// RFC 3339 startTime/endTime query parameters.
func (s *Server) handleMetrics(c *gin.Context) {
	start, err := parseTimeParam(c.Query("startTime"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startTime: must be RFC 3339"})
		return
	}

	end, err := parseTimeParam(c.Query("endTime"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endTime: must be RFC 3339"})
		return
	}

	groups, err := s.monitor.GetMetrics(c.Request.Context(), start, end)
	if err != nil {
		if errors.Is(err, monitor.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endTime must not be before startTime"})
			return
		}
		s.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"metrics": groups})
}

func parseTimeParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

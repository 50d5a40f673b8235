package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_DefaultNamespace(t *testing.T) {
	m := NewMetrics("")
	require.NotNil(t, m.Registry())

	m.RecordAlertSent()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alertsSent))
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test")

	m.RecordFailure("Invalid access token")
	m.RecordFailure("Invalid access token")
	m.RecordAlertSent()
	m.RecordAlertFailed()
	m.RecordRateLimitHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.failuresRecorded.WithLabelValues("Invalid access token")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alertsSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alertsFailed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rateLimitHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheMisses))
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := NewMetrics("test")

	m.RecordRequest(http.MethodPost, "/api/submit", http.StatusUnauthorized, 15*time.Millisecond)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodPost, "/api/submit", "401")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.RecordAlertSent()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_alerts_sent_total 1")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NotNil(t, logger.Zap())

	logger.Debug("debug message", String("k", "v"))
	logger.Info("info message", Int("n", 1))
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "verbose"})
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()

	logger.Info("discarded")
	assert.NotNil(t, logger.With(String("k", "v")))
	assert.NoError(t, logger.Sync())
	assert.NotNil(t, logger.Zap())
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	failuresRecorded *prometheus.CounterVec
	alertsSent       prometheus.Counter
	alertsFailed     prometheus.Counter
	rateLimitHits    prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	registry         *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "reqguard"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "path", "status"},
	)

	m.failuresRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_recorded_total",
			Help:      "Total number of failed requests recorded",
		},
		[]string{"reason"},
	)

	m.alertsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Total number of threshold alerts delivered",
		},
	)

	m.alertsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_failed_total",
			Help:      "Total number of threshold alerts that failed to send",
		},
	)

	m.rateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_breaches_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
	)

	m.cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_cache_hits_total",
			Help:      "Total number of metrics cache hits",
		},
	)

	m.cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_cache_misses_total",
			Help:      "Total number of metrics cache misses",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.failuresRecorded,
		m.alertsSent,
		m.alertsFailed,
		m.rateLimitHits,
		m.cacheHits,
		m.cacheMisses,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordRequest records an HTTP request with its duration.
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	s := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, path, s).Inc()
	m.requestDuration.WithLabelValues(method, path, s).Observe(duration.Seconds())
}

// RecordFailure records a failed request by reason.
func (m *Metrics) RecordFailure(reason string) {
	m.failuresRecorded.WithLabelValues(reason).Inc()
}

// RecordAlertSent records a delivered alert.
func (m *Metrics) RecordAlertSent() {
	m.alertsSent.Inc()
}

// RecordAlertFailed records a failed alert delivery.
func (m *Metrics) RecordAlertFailed() {
	m.alertsFailed.Inc()
}

// RecordRateLimitHit records a rate limit breach.
func (m *Metrics) RecordRateLimitHit() {
	m.rateLimitHits.Inc()
}

// RecordCacheHit records a metrics cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

// RecordCacheMiss records a metrics cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Inc()
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

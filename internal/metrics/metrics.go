// Package metrics exposes Prometheus collectors for the render pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rendersTotal               *prometheus.CounterVec
	renderDurationSeconds      *prometheus.HistogramVec
	storeOperationsTotal       *prometheus.CounterVec
	sessionsInUse              prometheus.Gauge
	runURLs                    *prometheus.GaugeVec
	diagnosticsFailuresTotal   prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "html_cache_renders_total",
				Help: "Total number of URLs processed, labeled by page type and outcome.",
			},
			[]string{"page_type", "outcome"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "html_cache_render_duration_seconds",
				Help:    "Histogram of per-URL render durations, labeled by page type.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"page_type"},
		)

		storeOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "html_cache_store_operations_total",
				Help: "Cache store calls, labeled by operation and status.",
			},
			[]string{"operation", "status"},
		)

		sessionsInUse = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "html_cache_sessions_in_use",
				Help: "Number of browser sessions currently leased to workers.",
			},
		)

		runURLs = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "html_cache_last_run_urls",
				Help: "URL counters of the most recent run, labeled by counter.",
			},
			[]string{"counter"},
		)

		diagnosticsFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "html_cache_diagnostics_failures_total",
				Help: "Failed URLs whose screenshot could not be captured.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "html_cache_rate_limit_delays_seconds",
				Help:    "Histogram of per-host navigation rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "html_cache_http_requests_total",
				Help: "Requests served by the metrics endpoint, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "html_cache_http_request_duration_seconds",
				Help:    "Histogram of metrics endpoint latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from rawURL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRender records one URL outcome and its duration.
func ObserveRender(pageType, outcome string, duration time.Duration) {
	Init()
	rendersTotal.WithLabelValues(pageType, outcome).Inc()
	renderDurationSeconds.WithLabelValues(pageType).Observe(duration.Seconds())
}

// ObserveStoreOperation counts a cache store call.
func ObserveStoreOperation(operation string, err error) {
	Init()
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeOperationsTotal.WithLabelValues(operation, status).Inc()
}

// IncSessionsInUse increments the leased sessions gauge.
func IncSessionsInUse() {
	Init()
	sessionsInUse.Inc()
}

// DecSessionsInUse decrements the leased sessions gauge.
func DecSessionsInUse() {
	Init()
	sessionsInUse.Dec()
}

// ObserveRun publishes the final counters of a run.
func ObserveRun(passed, total int) {
	Init()
	runURLs.WithLabelValues("passed").Set(float64(passed))
	runURLs.WithLabelValues("total").Set(float64(total))
}

// ObserveDiagnosticsFailure counts a screenshot capture failure.
func ObserveDiagnosticsFailure() {
	Init()
	diagnosticsFailuresTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

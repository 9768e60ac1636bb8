// Package metrics exposes the process-wide Prometheus collectors for the
// edge service. Render outcome metrics live in the events Prometheus sink.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	extractionBreakerOpen      *prometheus.GaugeVec
	readinessFailuresTotal     prometheus.Counter
	originWaitSeconds          prometheus.Histogram

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		)

		extractionBreakerOpen = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edge_extraction_breaker_open",
				Help: "1 while the extraction circuit breaker sheds calls.",
			},
			[]string{"backend"},
		)

		readinessFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "edge_readiness_failures_total",
				Help: "Readiness probes that failed because the KV store was unreachable.",
			},
		)

		originWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "edge_origin_rate_limit_wait_seconds",
				Help:    "Time outbound fetches spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeHost reduces a host or URL to a lowercase hostname label. It
// returns "unknown" when nothing usable remains.
func SanitizeHost(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetBreakerOpen tracks the extraction breaker state for backend.
func SetBreakerOpen(backend string, open bool) {
	Init()
	v := 0.0
	if open {
		v = 1
	}
	extractionBreakerOpen.WithLabelValues(backend).Set(v)
}

// ObserveReadinessFailure counts a failed readiness probe.
func ObserveReadinessFailure() {
	Init()
	readinessFailuresTotal.Inc()
}

// ObserveOriginWait records a fetch delayed by the per-host limiter.
func ObserveOriginWait(d time.Duration) {
	Init()
	originWaitSeconds.Observe(d.Seconds())
}

// Package observability provides logging, metrics, and tracing setup for
// the orchestration engine and its demo service.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts demo-service HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration observes demo-service HTTP latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// AttemptsTotal counts individual cascade attempts by outcome.
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_attempts_total",
			Help: "Total number of cascade attempts by capability, provider, and outcome",
		},
		[]string{"capability", "provider", "outcome"},
	)
	// AttemptDuration observes per-attempt invoke latency.
	AttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_attempt_duration_seconds",
			Help:    "Cascade attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"capability", "provider"},
	)
	// CascadesTotal counts whole cascade executions by terminal outcome.
	CascadesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascades_total",
			Help: "Total number of cascade executions by capability and outcome",
		},
		[]string{"capability", "outcome"},
	)
	// QualityScore observes accepted-result quality gate scores.
	QualityScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_quality_score",
			Help:    "Distribution of quality gate scores for accepted results (0-100)",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"capability"},
	)
	// HealthTransitionsTotal counts provider health state transitions.
	HealthTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_health_transitions_total",
			Help: "Total number of provider health state transitions",
		},
		[]string{"provider", "to_status"},
	)
	// FailsafeActivationsTotal counts degraded-mode forced resets.
	FailsafeActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failsafe_activations_total",
			Help: "Total number of all-providers-unavailable failsafe resets",
		},
		[]string{"capability"},
	)
	// CacheRequestsTotal counts result cache lookups.
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_requests_total",
			Help: "Total number of result cache lookups by capability and outcome",
		},
		[]string{"capability", "outcome"},
	)
)

var registerOnce sync.Once

// InitMetrics registers all Prometheus collectors once per process.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AttemptsTotal,
			AttemptDuration,
			CascadesTotal,
			QualityScore,
			HealthTransitionsTotal,
			FailsafeActivationsTotal,
			CacheRequestsTotal,
		)
	})
}

// MetricsHandler returns the /metrics endpoint handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HTTPMetricsMiddleware records request counts and latencies per chi route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

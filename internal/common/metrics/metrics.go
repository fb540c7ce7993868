package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	// HTTPRequestDuration tracks request latency by method, path, and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Reservation metrics
var (
	// ReservationTransitions counts reservation lifecycle outcomes by resulting status.
	ReservationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_transitions_total",
			Help: "Total number of reservation status transitions",
		},
		[]string{"status"},
	)

	// ReservationErrors counts surfaced errors by kind.
	ReservationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_errors_total",
			Help: "Total number of reservation operation errors by kind",
		},
		[]string{"kind"},
	)
)

// Idempotency metrics
var (
	// IdempotencyReplays counts cached-response replays.
	IdempotencyReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotency_replays_total",
			Help: "Total number of idempotent response replays",
		},
	)

	// IdempotencyConflicts counts fingerprint mismatches on reused keys.
	IdempotencyConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotency_conflicts_total",
			Help: "Total number of idempotency fingerprint conflicts",
		},
	)
)

// Outbox metrics
var (
	// OutboxPublished counts outbox rows successfully handed to the sink.
	OutboxPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox events published",
		},
	)

	// OutboxFailures counts publish attempts that failed, by terminality.
	OutboxFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_failures_total",
			Help: "Total number of outbox publish failures",
		},
		[]string{"terminal"},
	)

	// OutboxPendingEvents gauges the number of rows seen due in the last scan.
	OutboxPendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Number of due events in the outbox at the last drainer scan",
		},
	)
)

// Dependency metrics
var (
	// InventoryCallDuration tracks inventory RPC latency by operation and outcome.
	InventoryCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inventory_call_duration_seconds",
			Help:    "Duration of inventory service calls in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "outcome"},
	)

	// CircuitBreakerState gauges breaker state per dependency (0 closed, 1 half-open, 2 open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	// ExpiredHolds counts holds driven to EXPIRED, by origin (timer or sweeper).
	ExpiredHolds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expired_holds_total",
			Help: "Total number of holds expired",
		},
		[]string{"origin"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns an HTTP middleware that records request metrics.
// Side effects: records Prometheus metrics and reads the current time.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		path := normalizePath(r.URL.Path)

		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// normalizePath normalizes URL paths to avoid cardinality explosion.
// Reservation IDs are UUIDs, so anything after /reservations/ collapses to a placeholder.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/reservations/") {
		return path
	}
	rest := path[len("/reservations/"):]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return "/reservations/{id}" + rest[idx:]
	}
	return "/reservations/{id}"
}

// RecordTransition increments the transition counter for a resulting status.
// Side effects: records a Prometheus metric.
func RecordTransition(status string) {
	ReservationTransitions.WithLabelValues(status).Inc()
}

// RecordError increments the error counter for a taxonomy kind.
// Side effects: records a Prometheus metric.
func RecordError(kind string) {
	ReservationErrors.WithLabelValues(kind).Inc()
}

// RecordInventoryCall records one inventory RPC observation.
// Side effects: records a Prometheus metric.
func RecordInventoryCall(operation, outcome string, duration time.Duration) {
	InventoryCallDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordBreakerState sets the breaker gauge for a dependency.
// Side effects: records a Prometheus metric.
func RecordBreakerState(dependency string, state float64) {
	CircuitBreakerState.WithLabelValues(dependency).Set(state)
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	// HTTPRequestDuration tracks request latency by method, route, and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Database metrics
var (
	// DBTransactionDuration tracks transaction duration by operation label.
	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_transaction_duration_seconds",
			Help:    "Duration of database transactions in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// DBOptimisticLockConflicts counts optimistic lock conflicts by repository.
	DBOptimisticLockConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_optimistic_lock_conflicts_total",
			Help: "Total number of optimistic lock conflicts",
		},
		[]string{"repository"},
	)

	// DBPoolConnectionsInUse gauges the number of in-use database connections.
	DBPoolConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	// DBPoolConnectionsIdle gauges the number of idle database connections.
	DBPoolConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// Outbox metrics
var (
	// OutboxPendingEvents gauges the number of unpublished events seen by the last relay run.
	OutboxPendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Number of unpublished events in outbox",
		},
	)

	// OutboxPublished counts events handed to the broker by outcome.
	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox events published",
		},
		[]string{"outcome"},
	)
)

// Business metrics
var (
	// AuthRuleSyncTotal counts calls to the card issuer's rule API.
	AuthRuleSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rule_sync_total",
			Help: "Total number of authorization rule sync calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// ProfileCacheLookups counts profile cache lookups by result (hit, miss, error, bypass).
	ProfileCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_cache_lookups_total",
			Help: "Total number of limit profile cache lookups",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns an HTTP middleware that records request metrics.
// Routes are labelled with the chi route pattern so IDs do not inflate cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		status := strconv.Itoa(rw.statusCode)
		path := routePattern(r)

		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}

// RecordOptimisticLockConflict increments the optimistic lock conflict counter.
func RecordOptimisticLockConflict(repository string) {
	DBOptimisticLockConflicts.WithLabelValues(repository).Inc()
}

// RecordTransactionDuration records a transaction duration.
func RecordTransactionDuration(operation string, duration time.Duration) {
	DBTransactionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPoolStats updates the connection pool gauges.
func RecordPoolStats(inUse, idle int32) {
	DBPoolConnectionsInUse.Set(float64(inUse))
	DBPoolConnectionsIdle.Set(float64(idle))
}

// RecordAuthRuleSync counts one rule API call. outcome is "success" or "failure".
func RecordAuthRuleSync(operation, outcome string) {
	AuthRuleSyncTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordProfileCacheLookup counts one cache lookup.
func RecordProfileCacheLookup(result string) {
	ProfileCacheLookups.WithLabelValues(result).Inc()
}

// RecordOutboxRun updates outbox gauges and counters after a relay pass.
func RecordOutboxRun(pending, published, failed int) {
	OutboxPendingEvents.Set(float64(pending))
	OutboxPublished.WithLabelValues("success").Add(float64(published))
	OutboxPublished.WithLabelValues("failure").Add(float64(failed))
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be constructed without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access-control decisions
	AuthenticationsTotal    *prometheus.CounterVec
	AuthorizationsTotal     *prometheus.CounterVec
	AuthorizationDuration   *prometheus.HistogramVec
	RateLimitDecisionsTotal *prometheus.CounterVec
	RateLimitTrackedKeys    prometheus.Gauge
	RateLimitOverflowTotal  prometheus.Counter

	// Audit pipeline
	AuditRecordsTotal *prometheus.CounterVec
	AuditQueueDepth   prometheus.Gauge

	// Role registry
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Database pool
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBSlowCheckouts     prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AuthenticationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_authentications_total",
				Help: "Total number of credential verifications by result",
			},
			[]string{"result"},
		),
		AuthorizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_authorizations_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"requirement", "result"},
		),
		AuthorizationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessgate_authorization_duration_seconds",
				Help:    "Authorization decision latency in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"requirement"},
		),
		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_ratelimit_decisions_total",
				Help: "Total number of rate limit decisions",
			},
			[]string{"result"},
		),
		RateLimitTrackedKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessgate_ratelimit_tracked_keys",
				Help: "Number of client keys with live rate windows",
			},
		),
		RateLimitOverflowTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessgate_ratelimit_overflow_total",
				Help: "Requests from new client keys denied because the rate window index was full",
			},
		),

		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_audit_records_total",
				Help: "Audit records by outcome (written, dropped, failed)",
			},
			[]string{"outcome"},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessgate_audit_queue_depth",
				Help: "Audit records waiting to be written",
			},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_store_operations_total",
				Help: "Total number of role registry store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessgate_store_operation_duration_seconds",
				Help:    "Role registry store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessgate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBSlowCheckouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessgate_db_slow_checkouts_total",
				Help: "Scoped connections held longer than the warning threshold",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthenticationsTotal,
		m.AuthorizationsTotal,
		m.AuthorizationDuration,
		m.RateLimitDecisionsTotal,
		m.RateLimitTrackedKeys,
		m.RateLimitOverflowTotal,
		m.AuditRecordsTotal,
		m.AuditQueueDepth,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBSlowCheckouts,
	)

	return m
}

// ObserveAuthentication records a credential verification result
func (m *Metrics) ObserveAuthentication(result string) {
	if m == nil {
		return
	}
	m.AuthenticationsTotal.WithLabelValues(result).Inc()
}

// ObserveAuthorization records an authorization decision
func (m *Metrics) ObserveAuthorization(requirement string, allowed bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.AuthorizationsTotal.WithLabelValues(requirement, result).Inc()
	m.AuthorizationDuration.WithLabelValues(requirement).Observe(duration.Seconds())
}

// ObserveRateLimit records a rate limit decision
func (m *Metrics) ObserveRateLimit(allowed bool) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.RateLimitDecisionsTotal.WithLabelValues(result).Inc()
}

// SetRateLimitKeys sets the tracked key gauge
func (m *Metrics) SetRateLimitKeys(n int) {
	if m == nil {
		return
	}
	m.RateLimitTrackedKeys.Set(float64(n))
}

// IncRateLimitOverflow counts a new key turned away by the full index
func (m *Metrics) IncRateLimitOverflow() {
	if m == nil {
		return
	}
	m.RateLimitOverflowTotal.Inc()
}

// ObserveAudit records the outcome of one audit record
func (m *Metrics) ObserveAudit(outcome string) {
	if m == nil {
		return
	}
	m.AuditRecordsTotal.WithLabelValues(outcome).Inc()
}

// SetAuditQueueDepth sets the audit queue gauge
func (m *Metrics) SetAuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Set(float64(n))
}

// ObserveStoreOperation records a role registry store operation
func (m *Metrics) ObserveStoreOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetDBPool updates the database pool gauges
func (m *Metrics) SetDBPool(active, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(active))
	m.DBConnectionsIdle.Set(float64(idle))
}

// IncSlowCheckout counts a scoped connection held past its threshold
func (m *Metrics) IncSlowCheckout() {
	if m == nil {
		return
	}
	m.DBSlowCheckouts.Inc()
}

// HTTPMiddleware records request count and latency. The route template is
// used as the path label so cardinality stays bounded.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus scrape handler for the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

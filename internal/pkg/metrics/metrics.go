// Package metrics exposes Prometheus instruments for the match engine and
// the HTTP layer. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shed"

// Metrics holds the registry and every instrument registered on it.
type Metrics struct {
	registry *prometheus.Registry

	matchesRecorded prometheus.Counter
	matchesUndone   prometheus.Counter
	operationErrors *prometheus.CounterVec
	lockWait        prometheus.Histogram
	commitDuration  *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates a Metrics instance on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		matchesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_recorded_total",
			Help:      "Matches committed to the ledger.",
		}),
		matchesUndone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_undone_total",
			Help:      "Matches reversed by undo.",
		}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed engine operations by operation and error kind.",
		}, []string{"operation", "kind"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "player_lock_wait_seconds",
			Help:      "Time spent acquiring per-player locks.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Duration of engine store transactions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.matchesRecorded,
		m.matchesUndone,
		m.operationErrors,
		m.lockWait,
		m.commitDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MatchRecorded counts a committed match.
func (m *Metrics) MatchRecorded() {
	if m == nil {
		return
	}
	m.matchesRecorded.Inc()
}

// MatchUndone counts a committed undo.
func (m *Metrics) MatchUndone() {
	if m == nil {
		return
	}
	m.matchesUndone.Inc()
}

// OperationFailed counts a failed operation.
func (m *Metrics) OperationFailed(operation, kind string) {
	if m == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation, kind).Inc()
}

// ObserveLockWait records how long lock acquisition took.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// ObserveTransaction records the duration of a store transaction.
func (m *Metrics) ObserveTransaction(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.commitDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Package metrics defines the Prometheus metric collectors for backend
// traffic and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	BackendOpsTotal    *prometheus.CounterVec
	BackendOpDuration  *prometheus.HistogramVec
	BackendOpErrors    *prometheus.CounterVec
	BackendRowsTotal   *prometheus.CounterVec
	UpsertConflicts    prometheus.Counter
	SearchDepthReached *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all collectors on a private registry, so that
// multiple indexes in one process do not collide.
func New() *Metrics {
	m := &Metrics{
		BackendOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "findex_backend_ops_total",
				Help: "Total backend operations by table and operation.",
			},
			[]string{"table", "op"},
		),
		BackendOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "findex_backend_op_duration_seconds",
				Help:    "Backend operation latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"table", "op"},
		),
		BackendOpErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "findex_backend_op_errors_total",
				Help: "Backend operation failures by table and operation.",
			},
			[]string{"table", "op"},
		),
		BackendRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "findex_backend_rows_total",
				Help: "Rows moved to or from the backend by table and operation.",
			},
			[]string{"table", "op"},
		),
		UpsertConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "findex_upsert_conflicts_total",
				Help: "Entry Table compare-and-swap rejections.",
			},
		),
		SearchDepthReached: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "findex_search_depth_reached",
				Help:    "Recursion depth reached per search call.",
				Buckets: prometheus.LinearBuckets(0, 1, 16),
			},
			[]string{"stopped"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.BackendOpsTotal,
		m.BackendOpDuration,
		m.BackendOpErrors,
		m.BackendRowsTotal,
		m.UpsertConflicts,
		m.SearchDepthReached,
	)
	return m
}

// Handler returns an HTTP handler serving the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	StatsComputed       prometheus.Counter
	StatsErrors         prometheus.Counter
	StatsDuration       prometheus.Histogram
	BalanceLookupErrors prometheus.Counter
	SolverNoSolution    prometheus.Counter

	// Snapshot archive metrics
	SnapshotsArchived     prometheus.Counter
	SnapshotArchiveErrors prometheus.Counter

	// Live feed metrics
	FeedEventsReceived prometheus.Counter
	RefreshRuns        prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tokenfolio"
	}

	return &Metrics{
		StatsComputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_computed_total",
			Help:      "Total portfolio stats computations completed",
		}),
		StatsErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_errors_total",
			Help:      "Total portfolio stats computations failed",
		}),
		StatsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stats_duration_seconds",
			Help:      "Portfolio stats computation latency",
			Buckets:   prometheus.DefBuckets,
		}),
		BalanceLookupErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_lookup_errors_total",
			Help:      "Total per-address balance lookups treated as zero",
		}),
		SolverNoSolution: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_no_solution_total",
			Help:      "Total XIRR solves that diverged and reported zero",
		}),
		SnapshotsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_archived_total",
			Help:      "Total stats snapshots written to the archive",
		}),
		SnapshotArchiveErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_archive_errors_total",
			Help:      "Total stats snapshots that failed to archive",
		}),
		FeedEventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_received_total",
			Help:      "Total live transfer events received over WebSocket",
		}),
		RefreshRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_runs_total",
			Help:      "Total background snapshot refresh runs",
		}),
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

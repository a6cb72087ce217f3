package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Table lock manager metrics.
	LocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storagecore_table_locks_held",
			Help: "Number of table locks currently held",
		},
	)

	LockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagecore_lock_acquisitions_total",
			Help: "Total number of table lock acquisitions by outcome",
		},
		[]string{"outcome"}, // acquired, timeout, busy
	)

	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storagecore_lock_wait_seconds",
			Help:    "Time spent waiting to acquire a table lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Per-table engine operation metrics (§4.D).
	TableOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storagecore_table_operation_duration_seconds",
			Help:    "Duration of per-table engine operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	TableOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagecore_table_operations_total",
			Help: "Total per-table engine operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Snapshot engine metrics (§4.F).
	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagecore_snapshots_total",
			Help: "Total snapshots created by type",
		},
		[]string{"snapshot_type"},
	)

	SnapshotsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagecore_snapshots_expired_total",
			Help: "Total snapshots removed by retention GC",
		},
	)

	// Branch / CoW engine metrics (§4.G).
	BranchCopiesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagecore_branch_cow_copies_total",
			Help: "Total copy-on-write table copies performed for branches",
		},
	)

	// Workspace engine metrics (§4.I).
	ActiveWorkspacesByProject = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storagecore_active_workspaces",
			Help: "Active workspaces by project",
		},
		[]string{"project_id"},
	)

	// Workspace + PG-wire session metrics (§4.I, §4.J).
	ActiveWorkspaceSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storagecore_active_pgwire_sessions",
			Help: "Active PG-wire sessions by workspace",
		},
		[]string{"workspace_id"},
	)

	PGWireSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagecore_pgwire_sessions_total",
			Help: "Total PG-wire sessions by terminal status",
		},
		[]string{"status"}, // client_disconnect, timeout, server_drain
	)

	PGWireQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagecore_pgwire_queries_total",
			Help: "Total queries executed across all PG-wire sessions",
		},
	)

	// HTTP/S3 control-plane metrics (§4.K).
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagecore_http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storagecore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		LocksHeld,
		LockAcquisitionsTotal,
		LockWaitDuration,
		TableOperationDuration,
		TableOperationsTotal,
		SnapshotsTotal,
		SnapshotsExpiredTotal,
		BranchCopiesTotal,
		ActiveWorkspacesByProject,
		ActiveWorkspaceSessions,
		PGWireSessionsTotal,
		PGWireQueriesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus scrape handler. Mounting it under a path
// (and deciding whether to expose it at all) is the caller's job — see
// Prometheus exporter wiring is an external collaborator's job, not this package's.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

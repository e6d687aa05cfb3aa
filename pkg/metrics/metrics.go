// Package metrics exposes Prometheus instrumentation for the supervisor
// and the /health, /ready, /live JSON endpoints, in the style of the
// teacher's pkg/metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsByState tracks the current job count per state, refreshed by
	// Collector.
	JobsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "supervisor_jobs_by_state",
		Help: "Current number of jobs in each state.",
	}, []string{"state"})

	// ActiveWorkers tracks the current number of spawned, not-yet-reaped
	// worker processes.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supervisor_active_workers",
		Help: "Current number of active worker child processes.",
	})

	// JobsSpawned counts worker spawn attempts that succeeded.
	JobsSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supervisor_jobs_spawned_total",
		Help: "Total number of jobs successfully spawned as worker processes.",
	})

	// JobsOrphaned counts jobs reclassified as ORPHANED by the orphan
	// scan.
	JobsOrphaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supervisor_jobs_orphaned_total",
		Help: "Total number of jobs marked ORPHANED due to heartbeat timeout.",
	})

	// JobsAbortEscalated counts jobs force-killed after the cooperative
	// abort window elapsed.
	JobsAbortEscalated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supervisor_jobs_abort_escalated_total",
		Help: "Total number of jobs force-terminated after abort_escalation_seconds elapsed.",
	})

	// JobsCrashed counts jobs reclassified FAILED(worker_crashed) by the
	// reap phase race.
	JobsCrashed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supervisor_jobs_worker_crashed_total",
		Help: "Total number of jobs reclassified as FAILED(worker_crashed) on reap.",
	})

	// TickDuration records the wall-clock time of each supervisor tick.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "supervisor_tick_duration_seconds",
		Help:    "Duration of a full supervisor tick (all phases).",
		Buckets: prometheus.DefBuckets,
	})

	// HeartbeatAge records the observed age of heartbeats at orphan-scan
	// time, for tuning heartbeat_timeout_seconds.
	HeartbeatAge = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "supervisor_heartbeat_age_seconds",
		Help:    "Age of last_heartbeat_at observed during the orphan scan.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
	})
)

// Timer is a small stopwatch helper mirroring the teacher's metrics
// Timer: construct at the start of an operation, call ObserveDuration
// when it completes.
type Timer struct {
	hist  prometheus.Histogram
	start time.Time
}

// NewTimer starts a timer that will record into hist.
func NewTimer(hist prometheus.Histogram) *Timer {
	return &Timer{hist: hist, start: time.Now()}
}

// ObserveDuration records the elapsed time since NewTimer into the
// histogram.
func (t *Timer) ObserveDuration() {
	t.hist.Observe(time.Since(t.start).Seconds())
}

// Package metrics defines and registers the fog dispatcher's Prometheus
// metrics, and exposes a /healthz + /metrics HTTP surface for operators.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerAvailable is the gauge for uncommitted local capacity by
	// resource dimension (cpu, ram, gpu). It is registered in init; no
	// package in this module sets it, so it exports no series.
	LedgerAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fog_ledger_available",
			Help: "Uncommitted local resource capacity by dimension",
		},
		[]string{"resource"},
	)

	// InFlightTasks is the current count of Scheduling+Running tasks.
	InFlightTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fog_tasks_in_flight",
			Help: "Tasks currently in Scheduling or Running state",
		},
	)

	// TasksTotal counts tasks by terminal state.
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fog_tasks_total",
			Help: "Total tasks by terminal state",
		},
		[]string{"state"},
	)

	// PlacementsTotal counts placement decisions by outcome.
	PlacementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fog_placements_total",
			Help: "Total placement decisions by outcome (local, remote, split, rejected)",
		},
		[]string{"plan"},
	)

	// PlacementDuration measures time spent in the placement decision.
	PlacementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fog_placement_duration_seconds",
			Help:    "Time spent deciding a task's placement",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ExecutionDuration measures time spent executing a task end to end.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fog_execution_duration_seconds",
			Help:    "Time spent executing a task, by plan",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plan"},
	)

	// RemoteDispatchErrors counts failed remote dispatch attempts.
	RemoteDispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fog_remote_dispatch_errors_total",
			Help: "Remote dispatch failures by cause",
		},
		[]string{"cause"},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerAvailable,
		InFlightTasks,
		TasksTotal,
		PlacementsTotal,
		PlacementDuration,
		ExecutionDuration,
		RemoteDispatchErrors,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and observing them into a
// histogram once the operation completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Package metrics defines Prometheus collectors of the scheduler. Collectors
// are registered in a dedicated registry, so several schedulers (e.g. in
// tests) do not collide on the global default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "melt_bootstrap"

// Metrics groups all scheduler collectors.
type Metrics struct {
	registry *prometheus.Registry

	DagRuns         *prometheus.CounterVec
	DagRunDuration  *prometheus.HistogramVec
	TaskRuns        *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	ProbeRetries    *prometheus.CounterVec
	SkippedOverlaps *prometheus.CounterVec
	ActiveRuns      prometheus.Gauge
}

// New creates Metrics with collectors registered in a new registry. Go
// runtime and process collectors are registered as well.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		DagRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dag_runs_total",
			Help:      "Number of finished DAG runs by final status.",
		}, []string{"dag", "status"}),
		DagRunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dag_run_duration_seconds",
			Help:      "Duration of DAG runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"dag"}),
		TaskRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Number of finished tasks by final status.",
		}, []string{"dag", "task", "status"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of task executions.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16),
		}, []string{"dag", "task"}),
		ProbeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_retries_total",
			Help:      "Number of retried probe attempts.",
		}, []string{"task"}),
		SkippedOverlaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_overlaps_total",
			Help:      "Number of scheduled ticks skipped because previous run was still active.",
		}, []string{"dag"}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of DAG runs in progress.",
		}),
	}
}

// Registry returns the registry with all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns HTTP handler exposing metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTask records finished task.
func (m *Metrics) ObserveTask(dagId, taskId, status string, duration time.Duration) {
	m.TaskRuns.WithLabelValues(dagId, taskId, status).Inc()
	m.TaskDuration.WithLabelValues(dagId, taskId).Observe(duration.Seconds())
}

// ObserveDagRun records finished DAG run.
func (m *Metrics) ObserveDagRun(dagId, status string, duration time.Duration) {
	m.DagRuns.WithLabelValues(dagId, status).Inc()
	m.DagRunDuration.WithLabelValues(dagId).Observe(duration.Seconds())
}

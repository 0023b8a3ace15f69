package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for repo operations.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	TasksTotal    *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec
	InstallsTotal *prometheus.CounterVec
	InstallSecs   prometheus.Histogram
	LinksApplied  *prometheus.CounterVec
	GraphProjects prometheus.Gauge
	PolicyDenials prometheus.Counter
}

// NewMetrics creates a metrics set registered on a fresh registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "monoforge"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "Total build runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Duration of build runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"outcome"}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "tasks_total",
			Help:      "Total build tasks by final state.",
		}, []string{"state"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "task_duration_seconds",
			Help:      "Duration of individual build tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"project"}),
		InstallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "installs_total",
			Help:      "Total install reconciliations by mode.",
		}, []string{"mode"}),
		InstallSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "install_duration_seconds",
			Help:      "Duration of install reconciliations.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		LinksApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "link_operations_total",
			Help:      "Link plan applications by status.",
		}, []string{"status"}),
		GraphProjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "graph_projects",
			Help:      "Number of projects in the last built graph.",
		}),
		PolicyDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "policy_denials_total",
			Help:      "Governance policy denials.",
		}),
	}

	m.registry.MustRegister(
		m.RunsTotal, m.RunDuration, m.TasksTotal, m.TaskDuration,
		m.InstallsTotal, m.InstallSecs, m.LinksApplied,
		m.GraphProjects, m.PolicyDenials,
	)
	return m
}

// Registry returns the underlying registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records run-level metrics from a completed run.
func (m *Metrics) ObserveRun(outcome string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveTask records a finished task.
func (m *Metrics) ObserveTask(project, state string, duration time.Duration) {
	m.TasksTotal.WithLabelValues(state).Inc()
	if duration > 0 {
		m.TaskDuration.WithLabelValues(project).Observe(duration.Seconds())
	}
}

// ObserveInstall records an install reconciliation.
func (m *Metrics) ObserveInstall(mode string, duration time.Duration) {
	m.InstallsTotal.WithLabelValues(mode).Inc()
	m.InstallSecs.Observe(duration.Seconds())
}

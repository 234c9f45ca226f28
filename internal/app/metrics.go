package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/preview"
	"github.com/dshills/assetstorm/internal/task"
)

// Metrics records build activity in a Prometheus registry. It outlives
// configuration generations; one instance serves the whole process.
type Metrics struct {
	registry *prometheus.Registry

	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	running      prometheus.Gauge
	faults       *prometheus.CounterVec
	written      *prometheus.CounterVec
	problems     *prometheus.CounterVec
	reloads      *prometheus.CounterVec
	generations  prometheus.Counter
}

// NewMetrics creates a metrics set registered on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetstorm",
			Name:      "task_runs_total",
			Help:      "Finished task executions by final state.",
		}, []string{"task", "state"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assetstorm",
			Name:      "task_duration_seconds",
			Help:      "Task action duration.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"task"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "assetstorm",
			Name:      "tasks_running",
			Help:      "Task actions currently executing, including long tasks.",
		}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetstorm",
			Name:      "faults_total",
			Help:      "Reported faults by kind and stage.",
		}, []string{"kind", "stage"}),
		written: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetstorm",
			Name:      "files_written_total",
			Help:      "Output files written by pipeline.",
		}, []string{"pipeline"}),
		problems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetstorm",
			Name:      "lint_problems_total",
			Help:      "Problems matched in linter output by severity.",
		}, []string{"severity"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetstorm",
			Name:      "reload_signals_total",
			Help:      "Live-reload signals broadcast by scope.",
		}, []string{"scope"}),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetstorm",
			Name:      "config_generations_total",
			Help:      "Configuration generations started.",
		}),
	}
	m.registry.MustRegister(
		m.taskRuns, m.taskDuration, m.running, m.faults,
		m.written, m.problems, m.reloads, m.generations,
	)
	return m
}

// Registry returns the registry served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TaskStarted implements task.Listener.
func (m *Metrics) TaskStarted(_ *task.Run, _ string) {
	m.running.Inc()
}

// TaskFinished implements task.Listener.
func (m *Metrics) TaskFinished(_ *task.Run, name string, state task.State, d time.Duration, _ error) {
	m.taskRuns.WithLabelValues(name, string(state)).Inc()
	if state == task.StateSkipped {
		// Skipped tasks never started.
		return
	}
	m.running.Dec()
	m.taskDuration.WithLabelValues(name).Observe(d.Seconds())
}

// Fault counts a reported fault.
func (m *Metrics) Fault(fe *fault.Error) {
	m.faults.WithLabelValues(fe.Kind.String(), fe.Stage).Inc()
}

// Written counts files a pipeline wrote.
func (m *Metrics) Written(pipeline string, n int) {
	m.written.WithLabelValues(pipeline).Add(float64(n))
}

// Problem counts a lint problem.
func (m *Metrics) Problem(p task.Problem) {
	m.problems.WithLabelValues(string(p.Severity)).Inc()
}

// ReloadSent is a preview.Notifier signal hook.
func (m *Metrics) ReloadSent(sig preview.Signal, _ int) {
	m.reloads.WithLabelValues(sig.Scope.String()).Inc()
}

// GenerationStarted counts a configuration generation.
func (m *Metrics) GenerationStarted() {
	m.generations.Inc()
}

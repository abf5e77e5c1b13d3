// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine collectors. All methods are nil-safe so callers
// can run without a registry wired.
type Metrics struct {
	tasksStarted   prometheus.Counter
	tasksFinished  *prometheus.CounterVec
	activeTasks    prometheus.Gauge
	iterations     prometheus.Counter
	toolExecutions *prometheus.CounterVec
	retries        prometheus.Counter
}

// New registers the engine collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "tasks_started_total",
			Help:      "Tasks accepted for execution.",
		}),
		tasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		activeTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "loom",
			Name:      "tasks_active",
			Help:      "Tasks currently in the active registry.",
		}),
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "iterations_total",
			Help:      "Model iterations executed across all tasks.",
		}),
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool name and result status.",
		}, []string{"tool", "status"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "provider_retries_total",
			Help:      "Model call attempts that entered backoff.",
		}),
	}
}

// TaskStarted counts one accepted task.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksStarted.Inc()
	m.activeTasks.Inc()
}

// TaskFinished counts one terminal transition.
func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(status).Inc()
	m.activeTasks.Dec()
}

// Iteration counts one model iteration.
func (m *Metrics) Iteration() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

// ToolExecuted counts one tool execution.
func (m *Metrics) ToolExecuted(tool, status string) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(tool, status).Inc()
}

// Retry counts one backoff pause.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

package mcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the tool-layer Prometheus collectors.
type Metrics struct {
	InvocationsTotal     *prometheus.CounterVec
	InvocationDuration   *prometheus.HistogramVec
	TasksCreated         *prometheus.CounterVec
	TasksFinished        *prometheus.CounterVec
	TasksCancelRequested *prometheus.CounterVec
	CacheHits            *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_tool_invocations_total",
			Help: "Tool invocations by tool, version, status code, outcome, and user type.",
		}, []string{"tool", "version", "status", "outcome", "user_type"}),
		InvocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_tool_invocation_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tool"}),
		TasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_tasks_created_total",
			Help: "Long-running tasks enqueued by tool.",
		}, []string{"tool"}),
		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_tasks_finished_total",
			Help: "Task terminal transitions by tool and final status.",
		}, []string{"tool", "status"}),
		TasksCancelRequested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_tasks_cancel_requested_total",
			Help: "Cancellation requests accepted by tool.",
		}, []string{"tool"}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_tool_cache_hits_total",
			Help: "Tool result cache hits by tool.",
		}, []string{"tool"}),
	}
}

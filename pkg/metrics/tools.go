package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initToolMetrics() {
	m.toolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_tool_executions_total",
			Help: "Total number of tool executions by tool and status",
		},
		[]string{"tool", "status"},
	)
	m.registry.MustRegister(m.toolExecutions)
}

// RecordToolExecution records a tool invocation. Status is "success" or "failure".
func (m *Manager) RecordToolExecution(tool, status string) {
	if !m.enabled {
		return
	}
	m.toolExecutions.WithLabelValues(tool, status).Inc()
}

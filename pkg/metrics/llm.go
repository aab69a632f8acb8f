package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initLLMMetrics initializes reasoning backend metrics.
func (m *Manager) initLLMMetrics(cfg Config) {
	m.llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_llm_calls_total",
			Help: "Total number of reasoning calls by purpose and status",
		},
		[]string{"purpose", "status"},
	)

	m.llmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "npc_llm_call_duration_seconds",
			Help:    "Reasoning call latency in seconds",
			Buckets: cfg.LLMDurationBuckets,
		},
		[]string{"purpose"},
	)

	m.registry.MustRegister(m.llmCalls)
	m.registry.MustRegister(m.llmDuration)
}

// RecordLLMCall records one reasoning call, including retries.
func (m *Manager) RecordLLMCall(purpose, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.llmCalls.WithLabelValues(purpose, status).Inc()
	m.llmDuration.WithLabelValues(purpose).Observe(duration.Seconds())
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initVectorMetrics() {
	m.vectorReindex = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_vector_reindex_total",
			Help: "Total number of vector collection rebuilds",
		},
		[]string{"index_type"},
	)
	m.registry.MustRegister(m.vectorReindex)
}

// RecordReindex records a rebuild of one vector collection.
func (m *Manager) RecordReindex(indexType string) {
	if !m.enabled {
		return
	}
	m.vectorReindex.WithLabelValues(indexType).Inc()
}

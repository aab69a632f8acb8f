package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initLockMetrics initializes per-NPC lock metrics.
func (m *Manager) initLockMetrics(cfg Config) {
	m.lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "npc_lock_wait_seconds",
			Help:    "Time turns spend waiting for the per-NPC lock",
			Buckets: cfg.LockWaitBuckets,
		},
	)
	m.registry.MustRegister(m.lockWait)
}

// RecordLockWait records how long a turn waited for its NPC lock.
func (m *Manager) RecordLockWait(duration time.Duration) {
	if !m.enabled {
		return
	}
	m.lockWait.Observe(duration.Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Turn outcomes used as the "outcome" label.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeInvalid     = "invalid"
	OutcomeUnknownTool = "unknown_tool"
	OutcomeUpstream    = "upstream_error"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
)

// initTurnMetrics initializes turn pipeline metrics.
func (m *Manager) initTurnMetrics(cfg Config) {
	m.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_turns_total",
			Help: "Total number of NPC turns by outcome",
		},
		[]string{"outcome"},
	)

	m.turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "npc_turn_duration_seconds",
			Help:    "End-to-end NPC turn duration in seconds",
			Buckets: cfg.TurnDurationBuckets,
		},
	)

	m.turnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "npc_turns_active",
			Help: "Number of turns currently executing",
		},
	)

	m.memoriesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "npc_memories_created_total",
			Help: "Total number of episodic memories created by tier",
		},
		[]string{"memory_type"},
	)

	m.reflections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "npc_reflections_total",
			Help: "Total number of reflections performed",
		},
	)

	m.registry.MustRegister(m.turns)
	m.registry.MustRegister(m.turnDuration)
	m.registry.MustRegister(m.turnsActive)
	m.registry.MustRegister(m.memoriesCreated)
	m.registry.MustRegister(m.reflections)
}

// RecordTurn records a finished turn and its duration.
func (m *Manager) RecordTurn(outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

// IncActiveTurns increments the running turn gauge.
func (m *Manager) IncActiveTurns() {
	if !m.enabled {
		return
	}
	m.turnsActive.Inc()
}

// DecActiveTurns decrements the running turn gauge.
func (m *Manager) DecActiveTurns() {
	if !m.enabled {
		return
	}
	m.turnsActive.Dec()
}

// RecordMemoryCreated records a new memory in the given tier.
func (m *Manager) RecordMemoryCreated(memoryType string) {
	if !m.enabled {
		return
	}
	m.memoriesCreated.WithLabelValues(memoryType).Inc()
}

// RecordReflection records a reflection.
func (m *Manager) RecordReflection() {
	if !m.enabled {
		return
	}
	m.reflections.Inc()
}

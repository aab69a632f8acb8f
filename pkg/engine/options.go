package engine

import (
	"github.com/npcforge/npcforge/pkg/lane"
	"github.com/npcforge/npcforge/pkg/logger"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics sets the metrics recorder for the engine.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithLocker sets the per-NPC lock. Defaults to an in-process lock table.
func WithLocker(locker lane.Locker) Option {
	return func(e *Engine) {
		if locker != nil {
			e.locker = locker
		}
	}
}

// WithEventBroadcaster sets an event broadcaster for committed turns.
func WithEventBroadcaster(broadcaster EventBroadcaster) Option {
	return func(e *Engine) {
		if broadcaster != nil {
			e.events = broadcaster
		}
	}
}

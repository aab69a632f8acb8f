package engine

import (
	"time"

	"github.com/npcforge/npcforge/pkg/model"
)

// MetricsRecorder records turn pipeline metrics.
type MetricsRecorder interface {
	RecordTurn(outcome string, duration time.Duration)
	IncActiveTurns()
	DecActiveTurns()
	RecordMemoryCreated(memoryType string)
	RecordReflection()
}

type noopMetrics struct{}

func (noopMetrics) RecordTurn(string, time.Duration) {}
func (noopMetrics) IncActiveTurns() {}
func (noopMetrics) DecActiveTurns() {}
func (noopMetrics) RecordMemoryCreated(string) {}
func (noopMetrics) RecordReflection() {}

// EventBroadcaster receives turn notifications after they are committed.
// Implementations must not block.
type EventBroadcaster interface {
	BroadcastTurnCompleted(npcID string, result *model.TurnResult)
	BroadcastTurnFailed(npcID, turnID, outcome, message string)
	BroadcastMemoryCreated(m *model.Memory)
	BroadcastToolExecuted(npcID, turnID string, result *model.ActionResult)
}

type noopEvents struct{}

func (noopEvents) BroadcastTurnCompleted(string, *model.TurnResult) {}
func (noopEvents) BroadcastTurnFailed(string, string, string, string) {}
func (noopEvents) BroadcastMemoryCreated(*model.Memory) {}
func (noopEvents) BroadcastToolExecuted(string, string, *model.ActionResult) {}

package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const turnTracerName = "npcforge.engine"

const (
	spanTurn     = "npc.turn"
	spanForce    = "npc.force_action"
	spanLaneWait = "lane.wait"
	spanRetrieve = "npc.turn.retrieve"
	spanReflect  = "npc.turn.reflect"
	spanDecide   = "npc.turn.decide"
	spanExecute  = "npc.turn.execute"
	spanCommit   = "npc.turn.commit"
)

func engineTracer() trace.Tracer {
	return otel.Tracer(turnTracerName)
}

package events

import (
	"testing"
	"time"

	"github.com/npcforge/npcforge/pkg/model"
)

func receive(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast event")
	}
	return Event{}
}

func TestBroadcaster_SubscribeBroadcastUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.Broadcast(Event{
		Type: TypeTurnFailed,
		Payload: map[string]any{
			"npc_id": "npc-1",
		},
	})

	event := receive(t, ch)
	if event.Type != TypeTurnFailed {
		t.Fatalf("type = %q, want %s", event.Type, TypeTurnFailed)
	}
	if event.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
	if got := event.NPCID(); got != "npc-1" {
		t.Fatalf("NPCID() = %q, want npc-1", got)
	}

	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestBroadcaster_DropsOnOverflow(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.BroadcastTurnFailed("npc-1", "t1", "timeout", "deadline exceeded")
	b.BroadcastTurnFailed("npc-1", "t2", "timeout", "deadline exceeded")

	event := receive(t, ch)
	if p := event.Payload.(map[string]any); p["turn_id"] != "t1" {
		t.Fatalf("turn_id = %v, want t1", p["turn_id"])
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestBroadcaster_EngineHelpers(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(8)

	b.BroadcastMemoryCreated(&model.Memory{
		ID:         "m1",
		NPCID:      "npc-1",
		MemoryType: model.ShortTerm,
		CreatedAt:  time.Now(),
	})
	b.BroadcastToolExecuted("npc-1", "t1", &model.ActionResult{
		Success:    false,
		ActionType: "attack",
		Error:      "unknown attack type",
	})
	b.BroadcastTurnCompleted("npc-1", &model.TurnResult{
		Action:  model.Action{ActionType: "talk"},
		Result:  model.ActionResult{Success: true, ActionType: "talk"},
		TraceID: "tr1",
		TurnID:  "t1",
	})
	b.BroadcastTurnCompleted("npc-1", nil)
	b.BroadcastMemoryCreated(nil)

	want := []string{TypeMemoryCreated, TypeToolExecuted, TypeTurnCompleted}
	for _, typ := range want {
		event := receive(t, ch)
		if event.Type != typ {
			t.Fatalf("type = %q, want %q", event.Type, typ)
		}
		if event.NPCID() != "npc-1" {
			t.Fatalf("%s: npc_id = %q", typ, event.NPCID())
		}
	}

	select {
	case extra := <-ch:
		t.Fatalf("nil results should not broadcast, got %+v", extra)
	default:
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	a := b.Subscribe(1)
	c := b.Subscribe(1)

	b.Close()
	for _, ch := range []chan Event{a, c} {
		if _, ok := <-ch; ok {
			t.Fatal("channel should be closed")
		}
	}
	// Unsubscribing after close is a no-op.
	b.Unsubscribe(a)
}

// Package events fans engine events out to in-process subscribers such as
// the websocket hub.
package events

import (
	"sync"
	"time"

	"github.com/npcforge/npcforge/pkg/model"
)

// Event is the canonical event payload broadcast to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster broadcasts events to in-process subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast broadcasts a generic event to all subscribers.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Sends are non-blocking, so holding the read lock keeps Unsubscribe
	// from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop on overflow to keep broadcasters non-blocking.
		}
	}
}

// Event types emitted by the turn engine.
const (
	TypeTurnCompleted = "turn.completed"
	TypeTurnFailed    = "turn.failed"
	TypeMemoryCreated = "memory.created"
	TypeToolExecuted  = "tool.executed"
)

// Types lists every event type the engine emits.
var Types = []string{TypeTurnCompleted, TypeTurnFailed, TypeMemoryCreated, TypeToolExecuted}

// NPCID returns the npc_id carried in the payload, if any.
func (e Event) NPCID() string {
	if p, ok := e.Payload.(map[string]any); ok {
		if id, ok := p["npc_id"].(string); ok {
			return id
		}
	}
	return ""
}

// BroadcastTurnCompleted emits a turn completion event.
func (b *Broadcaster) BroadcastTurnCompleted(npcID string, result *model.TurnResult) {
	if result == nil {
		return
	}
	b.Broadcast(Event{
		Type: TypeTurnCompleted,
		Payload: map[string]any{
			"npc_id":           npcID,
			"turn_id":          result.TurnID,
			"trace_id":         result.TraceID,
			"action":           result.Action,
			"success":          result.Result.Success,
			"importance_score": result.ImportanceScore,
			"reflection_used":  result.ReflectionUsed,
			"memory_ids":       result.MemoryIDs,
		},
	})
}

// BroadcastTurnFailed emits a turn failure event.
func (b *Broadcaster) BroadcastTurnFailed(npcID, turnID, outcome, message string) {
	b.Broadcast(Event{
		Type: TypeTurnFailed,
		Payload: map[string]any{
			"npc_id":  npcID,
			"turn_id": turnID,
			"outcome": outcome,
			"error":   message,
		},
	})
}

// BroadcastMemoryCreated emits a memory creation event.
func (b *Broadcaster) BroadcastMemoryCreated(m *model.Memory) {
	if m == nil {
		return
	}
	b.Broadcast(Event{
		Type: TypeMemoryCreated,
		Payload: map[string]any{
			"npc_id":      m.NPCID,
			"memory_id":   m.ID,
			"memory_type": m.MemoryType,
			"source":      m.Source,
			"importance":  m.Importance,
			"created_at":  m.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

// BroadcastToolExecuted emits a tool execution event.
func (b *Broadcaster) BroadcastToolExecuted(npcID, turnID string, result *model.ActionResult) {
	if result == nil {
		return
	}
	payload := map[string]any{
		"npc_id":      npcID,
		"turn_id":     turnID,
		"action_type": result.ActionType,
		"success":     result.Success,
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	if len(result.Effect) > 0 {
		payload["effect"] = result.Effect
	}
	b.Broadcast(Event{
		Type:    TypeToolExecuted,
		Payload: payload,
	})
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}

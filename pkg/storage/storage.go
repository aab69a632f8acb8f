// Package storage provides the persistence abstraction for NPCs, their
// knowledge, memories, traces and dynamic tools.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/npcforge/npcforge/pkg/model"
)

// Storage defines the interface for persistent storage operations.
// Lookups of missing entities return *model.NotFoundError.
type Storage interface {
	// NPC operations
	SaveNPC(ctx context.Context, npc *model.NPC) error
	GetNPC(ctx context.Context, id string) (*model.NPC, error)
	ListNPCs(ctx context.Context, filter model.NPCFilter) ([]*model.NPC, error)
	DeleteNPC(ctx context.Context, id string) error

	// Persona operations
	SavePersona(ctx context.Context, p *model.Persona) error
	GetPersona(ctx context.Context, id string) (*model.Persona, error)
	ListPersonas(ctx context.Context) ([]*model.Persona, error)
	DeletePersona(ctx context.Context, id string) error

	// Persona fact operations
	SavePersonaFact(ctx context.Context, f *model.PersonaFact) error
	ListPersonaFacts(ctx context.Context, filter FactFilter) ([]*model.PersonaFact, error)
	DeletePersonaFacts(ctx context.Context, filter FactFilter) (int, error)

	// World operations
	SaveWorld(ctx context.Context, w *model.World) error
	GetWorld(ctx context.Context, id string) (*model.World, error)
	ListWorlds(ctx context.Context) ([]*model.World, error)
	DeleteWorld(ctx context.Context, id string) error

	// Memory operations. An empty npcID in ListMemories spans all NPCs.
	SaveMemory(ctx context.Context, m *model.Memory) error
	GetMemory(ctx context.Context, npcID, memoryID string) (*model.Memory, error)
	ListMemories(ctx context.Context, npcID string, filter model.MemoryFilter) ([]*model.Memory, error)
	DeleteMemory(ctx context.Context, npcID, memoryID string) error
	DeleteMemories(ctx context.Context, npcID string, memoryType model.MemoryType) (int, error)

	// Trace operations. Traces are written only through CommitTurn.
	GetTrace(ctx context.Context, id string) (*model.Trace, error)
	ListTraces(ctx context.Context, npcID string, limit, offset int) ([]*model.Trace, int, error)
	DeleteTrace(ctx context.Context, id string) error
	DeleteTraces(ctx context.Context, npcID string) (int, error)

	// Dynamic tool operations
	SaveTool(ctx context.Context, t *model.ToolDefinition) error
	GetTool(ctx context.Context, id string) (*model.ToolDefinition, error)
	ListTools(ctx context.Context) ([]*model.ToolDefinition, error)
	DeleteTool(ctx context.Context, id string) error

	// CommitTurn writes every artifact of a turn as one atomic unit.
	CommitTurn(ctx context.Context, c *TurnCommit) error

	// Lifecycle
	Close() error
}

// TurnCommit groups the writes of a completed turn.
type TurnCommit struct {
	NPC      *model.NPC
	Memories []*model.Memory
	Facts    []*model.PersonaFact
	Trace    *model.Trace
}

// Validate checks that the commit is internally consistent.
func (c *TurnCommit) Validate() error {
	if c == nil || c.Trace == nil {
		return fmt.Errorf("storage: turn commit requires a trace")
	}
	for _, m := range c.Memories {
		if m.NPCID != c.Trace.NPCID {
			return fmt.Errorf("storage: memory %s belongs to %s, not %s", m.ID, m.NPCID, c.Trace.NPCID)
		}
	}
	if c.NPC != nil && c.NPC.ID != c.Trace.NPCID {
		return fmt.Errorf("storage: npc %s does not match trace npc %s", c.NPC.ID, c.Trace.NPCID)
	}
	return nil
}

// FactFilter selects persona facts. Empty fields match everything.
type FactFilter struct {
	PersonaID string
	NPCID     string
}

// Matches reports whether f passes the filter.
func (ff FactFilter) Matches(f *model.PersonaFact) bool {
	if ff.PersonaID != "" && f.PersonaID != ff.PersonaID {
		return false
	}
	if ff.NPCID != "" && f.NPCID != ff.NPCID {
		return false
	}
	return true
}

// UnavailableError indicates that the storage backend is unavailable.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// IsUnavailable reports whether err is, or wraps, an *UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// SortMemories orders memories newest first, breaking ties by id.
func SortMemories(ms []*model.Memory) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].ID > ms[j].ID
		}
		return ms[i].CreatedAt.After(ms[j].CreatedAt)
	})
}

// SortTraces orders traces newest first, breaking ties by id.
func SortTraces(ts []*model.Trace) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID > ts[j].ID
		}
		return ts[i].CreatedAt.After(ts[j].CreatedAt)
	})
}

// FilterMemories applies tier and limit to a sorted slice.
func FilterMemories(ms []*model.Memory, filter model.MemoryFilter) []*model.Memory {
	out := ms[:0:0]
	for _, m := range ms {
		if filter.MemoryType != "" && m.MemoryType != filter.MemoryType {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// Page slices items by offset and limit; a non-positive limit returns the rest.
func Page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

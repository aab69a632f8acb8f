// Package memory provides an in-memory implementation of the storage interface.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
)

// MemoryStorage implements the Storage interface using in-memory maps.
type MemoryStorage struct {
	mu       sync.RWMutex
	npcs     map[string]*model.NPC
	personas map[string]*model.Persona
	facts    map[string]*model.PersonaFact
	worlds   map[string]*model.World
	memories map[string]map[string]*model.Memory // npcID -> memoryID -> Memory
	traces   map[string]*model.Trace
	tools    map[string]*model.ToolDefinition
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		npcs:     make(map[string]*model.NPC),
		personas: make(map[string]*model.Persona),
		facts:    make(map[string]*model.PersonaFact),
		worlds:   make(map[string]*model.World),
		memories: make(map[string]map[string]*model.Memory),
		traces:   make(map[string]*model.Trace),
		tools:    make(map[string]*model.ToolDefinition),
	}
}

// clone deep-copies v so callers never share state with the store.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(&storage.SerializationError{Operation: "marshal", Cause: err})
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(&storage.SerializationError{Operation: "unmarshal", Cause: err})
	}
	return &out
}

func sortedValues[T any](m map[string]*T, less func(a, b *T) bool) []*T {
	out := make([]*T, 0, len(m))
	for _, v := range m {
		out = append(out, clone(v))
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// SaveNPC creates or replaces an NPC.
func (m *MemoryStorage) SaveNPC(ctx context.Context, npc *model.NPC) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.npcs[npc.ID] = clone(npc)
	return nil
}

// GetNPC retrieves an NPC by ID.
func (m *MemoryStorage) GetNPC(ctx context.Context, id string) (*model.NPC, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	npc, ok := m.npcs[id]
	if !ok {
		return nil, model.NewNotFound("npc", id)
	}
	return clone(npc), nil
}

// ListNPCs lists NPCs oldest first, optionally restricted to one world.
func (m *MemoryStorage) ListNPCs(ctx context.Context, filter model.NPCFilter) ([]*model.NPC, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := sortedValues(m.npcs, func(a, b *model.NPC) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	out := all[:0]
	for _, n := range all {
		if filter.WorldID != "" && n.WorldID != filter.WorldID {
			continue
		}
		out = append(out, n)
	}
	return storage.Page(out, filter.Limit, 0), nil
}

// DeleteNPC removes an NPC record.
func (m *MemoryStorage) DeleteNPC(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.npcs[id]; !ok {
		return model.NewNotFound("npc", id)
	}
	delete(m.npcs, id)
	return nil
}

// SavePersona creates or replaces a persona.
func (m *MemoryStorage) SavePersona(ctx context.Context, p *model.Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.personas[p.ID] = clone(p)
	return nil
}

// GetPersona retrieves a persona by ID.
func (m *MemoryStorage) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.personas[id]
	if !ok {
		return nil, model.NewNotFound("persona", id)
	}
	return clone(p), nil
}

// ListPersonas lists all personas ordered by ID.
func (m *MemoryStorage) ListPersonas(ctx context.Context) ([]*model.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.personas, func(a, b *model.Persona) bool { return a.ID < b.ID }), nil
}

// DeletePersona removes a persona.
func (m *MemoryStorage) DeletePersona(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.personas[id]; !ok {
		return model.NewNotFound("persona", id)
	}
	delete(m.personas, id)
	return nil
}

// SavePersonaFact creates or replaces a persona fact.
func (m *MemoryStorage) SavePersonaFact(ctx context.Context, f *model.PersonaFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[f.ID] = clone(f)
	return nil
}

// ListPersonaFacts lists matching facts oldest first.
func (m *MemoryStorage) ListPersonaFacts(ctx context.Context, filter storage.FactFilter) ([]*model.PersonaFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := sortedValues(m.facts, func(a, b *model.PersonaFact) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	out := all[:0]
	for _, f := range all {
		if filter.Matches(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// DeletePersonaFacts removes matching facts.
func (m *MemoryStorage) DeletePersonaFacts(ctx context.Context, filter storage.FactFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, f := range m.facts {
		if filter.Matches(f) {
			delete(m.facts, id)
			n++
		}
	}
	return n, nil
}

// SaveWorld creates or replaces a world.
func (m *MemoryStorage) SaveWorld(ctx context.Context, w *model.World) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.worlds[w.ID] = clone(w)
	return nil
}

// GetWorld retrieves a world by ID.
func (m *MemoryStorage) GetWorld(ctx context.Context, id string) (*model.World, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.worlds[id]
	if !ok {
		return nil, model.NewNotFound("world", id)
	}
	return clone(w), nil
}

// ListWorlds lists all worlds ordered by ID.
func (m *MemoryStorage) ListWorlds(ctx context.Context) ([]*model.World, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.worlds, func(a, b *model.World) bool { return a.ID < b.ID }), nil
}

// DeleteWorld removes a world.
func (m *MemoryStorage) DeleteWorld(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.worlds[id]; !ok {
		return model.NewNotFound("world", id)
	}
	delete(m.worlds, id)
	return nil
}

// SaveMemory creates or replaces a memory.
func (m *MemoryStorage) SaveMemory(ctx context.Context, mem *model.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putMemory(mem)
	return nil
}

func (m *MemoryStorage) putMemory(mem *model.Memory) {
	bucket, ok := m.memories[mem.NPCID]
	if !ok {
		bucket = make(map[string]*model.Memory)
		m.memories[mem.NPCID] = bucket
	}
	bucket[mem.ID] = clone(mem)
}

// GetMemory retrieves a memory of an NPC.
func (m *MemoryStorage) GetMemory(ctx context.Context, npcID, memoryID string) (*model.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.memories[npcID][memoryID]
	if !ok {
		return nil, model.NewNotFound("memory", memoryID)
	}
	return clone(mem), nil
}

// ListMemories lists memories newest first.
func (m *MemoryStorage) ListMemories(ctx context.Context, npcID string, filter model.MemoryFilter) ([]*model.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*model.Memory
	for id, bucket := range m.memories {
		if npcID != "" && id != npcID {
			continue
		}
		for _, mem := range bucket {
			all = append(all, clone(mem))
		}
	}
	storage.SortMemories(all)
	return storage.FilterMemories(all, filter), nil
}

// DeleteMemory removes one memory.
func (m *MemoryStorage) DeleteMemory(ctx context.Context, npcID, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.memories[npcID][memoryID]; !ok {
		return model.NewNotFound("memory", memoryID)
	}
	delete(m.memories[npcID], memoryID)
	return nil
}

// DeleteMemories removes all memories of an NPC in one tier, or in every
// tier when memoryType is empty.
func (m *MemoryStorage) DeleteMemories(ctx context.Context, npcID string, memoryType model.MemoryType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, mem := range m.memories[npcID] {
		if memoryType != "" && mem.MemoryType != memoryType {
			continue
		}
		delete(m.memories[npcID], id)
		n++
	}
	return n, nil
}

// GetTrace retrieves a trace by ID.
func (m *MemoryStorage) GetTrace(ctx context.Context, id string) (*model.Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.traces[id]
	if !ok {
		return nil, model.NewNotFound("trace", id)
	}
	return clone(tr), nil
}

// ListTraces lists an NPC's traces newest first with pagination.
func (m *MemoryStorage) ListTraces(ctx context.Context, npcID string, limit, offset int) ([]*model.Trace, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*model.Trace
	for _, tr := range m.traces {
		if tr.NPCID == npcID {
			all = append(all, clone(tr))
		}
	}
	storage.SortTraces(all)
	return storage.Page(all, limit, offset), len(all), nil
}

// DeleteTrace removes a trace.
func (m *MemoryStorage) DeleteTrace(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.traces[id]; !ok {
		return model.NewNotFound("trace", id)
	}
	delete(m.traces, id)
	return nil
}

// DeleteTraces removes every trace of an NPC.
func (m *MemoryStorage) DeleteTraces(ctx context.Context, npcID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, tr := range m.traces {
		if tr.NPCID == npcID {
			delete(m.traces, id)
			n++
		}
	}
	return n, nil
}

// SaveTool creates or replaces a dynamic tool.
func (m *MemoryStorage) SaveTool(ctx context.Context, t *model.ToolDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[t.ID] = clone(t)
	return nil
}

// GetTool retrieves a dynamic tool by ID.
func (m *MemoryStorage) GetTool(ctx context.Context, id string) (*model.ToolDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[id]
	if !ok {
		return nil, model.NewNotFound("tool", id)
	}
	return clone(t), nil
}

// ListTools lists dynamic tools ordered by ID.
func (m *MemoryStorage) ListTools(ctx context.Context) ([]*model.ToolDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.tools, func(a, b *model.ToolDefinition) bool { return a.ID < b.ID }), nil
}

// DeleteTool removes a dynamic tool.
func (m *MemoryStorage) DeleteTool(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tools[id]; !ok {
		return model.NewNotFound("tool", id)
	}
	delete(m.tools, id)
	return nil
}

// CommitTurn applies all writes of a turn under one lock acquisition.
func (m *MemoryStorage) CommitTurn(ctx context.Context, c *storage.TurnCommit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.npcs[c.Trace.NPCID]; !ok {
		return model.NewNotFound("npc", c.Trace.NPCID)
	}
	if c.NPC != nil {
		m.npcs[c.NPC.ID] = clone(c.NPC)
	}
	for _, mem := range c.Memories {
		m.putMemory(mem)
	}
	for _, f := range c.Facts {
		m.facts[f.ID] = clone(f)
	}
	m.traces[c.Trace.ID] = clone(c.Trace)
	return nil
}

// Close is a no-op for in-memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}

// Package badger provides a Badger-based implementation of the storage interface.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
)

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	InMemory          bool
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
}

// BadgerStorage implements the Storage interface using Badger.
type BadgerStorage struct {
	db     *badger.DB
	config *Config
}

// NewBadgerStorage creates a new Badger storage instance.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.UnavailableError{Cause: err}
	}

	return &BadgerStorage{
		db:     db,
		config: config,
	}, nil
}

// Key generation functions
func npcKey(id string) []byte { return []byte("npc:" + id) }
func personaKey(id string) []byte { return []byte("persona:" + id) }
func worldKey(id string) []byte { return []byte("world:" + id) }
func toolKey(id string) []byte { return []byte("tool:" + id) }
func traceIndexKey(id string) []byte { return []byte("traceidx:" + id) }

func factKey(personaID, id string) []byte {
	return []byte(fmt.Sprintf("fact:%s:%s", personaID, id))
}

func memoryKey(npcID, id string) []byte {
	return []byte(fmt.Sprintf("memory:%s:%s", npcID, id))
}

func memoryPrefix(npcID string) []byte {
	if npcID == "" {
		return []byte("memory:")
	}
	return []byte(fmt.Sprintf("memory:%s:", npcID))
}

func traceKey(npcID, id string) []byte {
	return []byte(fmt.Sprintf("trace:%s:%s", npcID, id))
}

func tracePrefix(npcID string) []byte {
	return []byte(fmt.Sprintf("trace:%s:", npcID))
}

// Serialization helpers
func serialize(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{
			Operation: "marshal",
			Cause:     err,
		}
	}
	return data, nil
}

func deserialize(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{
			Operation: "unmarshal",
			Cause:     err,
		}
	}
	return nil
}

func (b *BadgerStorage) put(key []byte, v interface{}) error {
	data, err := serialize(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func getInTxn(txn *badger.Txn, key []byte, kind, id string, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return model.NewNotFound(kind, id)
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return deserialize(val, v)
	})
}

func (b *BadgerStorage) get(key []byte, kind, id string, v interface{}) error {
	return b.db.View(func(txn *badger.Txn) error {
		return getInTxn(txn, key, kind, id, v)
	})
}

// scan decodes every value under prefix into a fresh T.
func scan[T any](db *badger.DB, prefix []byte) ([]*T, error) {
	var out []*T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &v)
			}); err != nil {
				return err
			}
			out = append(out, &v)
		}
		return nil
	})
	return out, err
}

// remove deletes an existing key or returns NotFoundError.
func (b *BadgerStorage) remove(key []byte, kind, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return model.NewNotFound(kind, id)
			}
			return err
		}
		return txn.Delete(key)
	})
}

// removeAll deletes keys through a write batch so large cascades do not hit
// the transaction size limit.
func (b *BadgerStorage) removeAll(keys [][]byte) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// SaveNPC creates or replaces an NPC.
func (b *BadgerStorage) SaveNPC(ctx context.Context, npc *model.NPC) error {
	return b.put(npcKey(npc.ID), npc)
}

// GetNPC retrieves an NPC by ID.
func (b *BadgerStorage) GetNPC(ctx context.Context, id string) (*model.NPC, error) {
	var npc model.NPC
	if err := b.get(npcKey(id), "npc", id, &npc); err != nil {
		return nil, err
	}
	return &npc, nil
}

// ListNPCs lists NPCs oldest first, optionally restricted to one world.
func (b *BadgerStorage) ListNPCs(ctx context.Context, filter model.NPCFilter) ([]*model.NPC, error) {
	all, err := scan[model.NPC](b.db, []byte("npc:"))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, n := range all {
		if filter.WorldID == "" || n.WorldID == filter.WorldID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return storage.Page(out, filter.Limit, 0), nil
}

// DeleteNPC removes an NPC record.
func (b *BadgerStorage) DeleteNPC(ctx context.Context, id string) error {
	return b.remove(npcKey(id), "npc", id)
}

// SavePersona creates or replaces a persona.
func (b *BadgerStorage) SavePersona(ctx context.Context, p *model.Persona) error {
	return b.put(personaKey(p.ID), p)
}

// GetPersona retrieves a persona by ID.
func (b *BadgerStorage) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	var p model.Persona
	if err := b.get(personaKey(id), "persona", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPersonas lists all personas ordered by ID.
func (b *BadgerStorage) ListPersonas(ctx context.Context) ([]*model.Persona, error) {
	return scan[model.Persona](b.db, []byte("persona:"))
}

// DeletePersona removes a persona.
func (b *BadgerStorage) DeletePersona(ctx context.Context, id string) error {
	return b.remove(personaKey(id), "persona", id)
}

// SavePersonaFact creates or replaces a persona fact.
func (b *BadgerStorage) SavePersonaFact(ctx context.Context, f *model.PersonaFact) error {
	return b.put(factKey(f.PersonaID, f.ID), f)
}

// ListPersonaFacts lists matching facts oldest first.
func (b *BadgerStorage) ListPersonaFacts(ctx context.Context, filter storage.FactFilter) ([]*model.PersonaFact, error) {
	prefix := []byte("fact:")
	if filter.PersonaID != "" {
		prefix = []byte(fmt.Sprintf("fact:%s:", filter.PersonaID))
	}
	all, err := scan[model.PersonaFact](b.db, prefix)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, f := range all {
		if filter.Matches(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return factBefore(out[i], out[j]) })
	return out, nil
}

func factBefore(a, b *model.PersonaFact) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// DeletePersonaFacts removes matching facts.
func (b *BadgerStorage) DeletePersonaFacts(ctx context.Context, filter storage.FactFilter) (int, error) {
	facts, err := b.ListPersonaFacts(ctx, filter)
	if err != nil {
		return 0, err
	}
	keys := make([][]byte, len(facts))
	for i, f := range facts {
		keys[i] = factKey(f.PersonaID, f.ID)
	}
	return b.removeAll(keys)
}

// SaveWorld creates or replaces a world.
func (b *BadgerStorage) SaveWorld(ctx context.Context, w *model.World) error {
	return b.put(worldKey(w.ID), w)
}

// GetWorld retrieves a world by ID.
func (b *BadgerStorage) GetWorld(ctx context.Context, id string) (*model.World, error) {
	var w model.World
	if err := b.get(worldKey(id), "world", id, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorlds lists all worlds ordered by ID.
func (b *BadgerStorage) ListWorlds(ctx context.Context) ([]*model.World, error) {
	return scan[model.World](b.db, []byte("world:"))
}

// DeleteWorld removes a world.
func (b *BadgerStorage) DeleteWorld(ctx context.Context, id string) error {
	return b.remove(worldKey(id), "world", id)
}

// SaveMemory creates or replaces a memory.
func (b *BadgerStorage) SaveMemory(ctx context.Context, m *model.Memory) error {
	return b.put(memoryKey(m.NPCID, m.ID), m)
}

// GetMemory retrieves a memory of an NPC.
func (b *BadgerStorage) GetMemory(ctx context.Context, npcID, memoryID string) (*model.Memory, error) {
	var m model.Memory
	if err := b.get(memoryKey(npcID, memoryID), "memory", memoryID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMemories lists memories newest first.
func (b *BadgerStorage) ListMemories(ctx context.Context, npcID string, filter model.MemoryFilter) ([]*model.Memory, error) {
	all, err := scan[model.Memory](b.db, memoryPrefix(npcID))
	if err != nil {
		return nil, err
	}
	storage.SortMemories(all)
	return storage.FilterMemories(all, filter), nil
}

// DeleteMemory removes one memory.
func (b *BadgerStorage) DeleteMemory(ctx context.Context, npcID, memoryID string) error {
	return b.remove(memoryKey(npcID, memoryID), "memory", memoryID)
}

// DeleteMemories removes all memories of an NPC in one tier, or in every
// tier when memoryType is empty.
func (b *BadgerStorage) DeleteMemories(ctx context.Context, npcID string, memoryType model.MemoryType) (int, error) {
	if npcID == "" {
		return 0, fmt.Errorf("badger: delete memories requires an npc id")
	}
	mems, err := b.ListMemories(ctx, npcID, model.MemoryFilter{MemoryType: memoryType})
	if err != nil {
		return 0, err
	}
	keys := make([][]byte, len(mems))
	for i, m := range mems {
		keys[i] = memoryKey(m.NPCID, m.ID)
	}
	return b.removeAll(keys)
}

// GetTrace retrieves a trace by ID through the trace index.
func (b *BadgerStorage) GetTrace(ctx context.Context, id string) (*model.Trace, error) {
	var tr model.Trace
	err := b.db.View(func(txn *badger.Txn) error {
		npcID, err := traceOwner(txn, id)
		if err != nil {
			return err
		}
		return getInTxn(txn, traceKey(npcID, id), "trace", id, &tr)
	})
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func traceOwner(txn *badger.Txn, id string) (string, error) {
	item, err := txn.Get(traceIndexKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", model.NewNotFound("trace", id)
		}
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// ListTraces lists an NPC's traces newest first with pagination.
func (b *BadgerStorage) ListTraces(ctx context.Context, npcID string, limit, offset int) ([]*model.Trace, int, error) {
	all, err := scan[model.Trace](b.db, tracePrefix(npcID))
	if err != nil {
		return nil, 0, err
	}
	storage.SortTraces(all)
	return storage.Page(all, limit, offset), len(all), nil
}

// DeleteTrace removes a trace and its index entry.
func (b *BadgerStorage) DeleteTrace(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		npcID, err := traceOwner(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(traceKey(npcID, id)); err != nil {
			return err
		}
		return txn.Delete(traceIndexKey(id))
	})
}

// DeleteTraces removes every trace of an NPC.
func (b *BadgerStorage) DeleteTraces(ctx context.Context, npcID string) (int, error) {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tracePrefix(npcID)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			id := strings.TrimPrefix(string(key), string(opts.Prefix))
			keys = append(keys, key, traceIndexKey(id))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	n, err := b.removeAll(keys)
	return n / 2, err
}

// SaveTool creates or replaces a dynamic tool.
func (b *BadgerStorage) SaveTool(ctx context.Context, t *model.ToolDefinition) error {
	return b.put(toolKey(t.ID), t)
}

// GetTool retrieves a dynamic tool by ID.
func (b *BadgerStorage) GetTool(ctx context.Context, id string) (*model.ToolDefinition, error) {
	var t model.ToolDefinition
	if err := b.get(toolKey(id), "tool", id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTools lists dynamic tools ordered by ID.
func (b *BadgerStorage) ListTools(ctx context.Context) ([]*model.ToolDefinition, error) {
	return scan[model.ToolDefinition](b.db, []byte("tool:"))
}

// DeleteTool removes a dynamic tool.
func (b *BadgerStorage) DeleteTool(ctx context.Context, id string) error {
	return b.remove(toolKey(id), "tool", id)
}

// CommitTurn applies all writes of a turn in a single transaction.
func (b *BadgerStorage) CommitTurn(ctx context.Context, c *storage.TurnCommit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	type entry struct {
		key []byte
		val []byte
	}
	var entries []entry
	add := func(key []byte, v interface{}) error {
		data, err := serialize(v)
		if err != nil {
			return err
		}
		entries = append(entries, entry{key, data})
		return nil
	}

	if c.NPC != nil {
		if err := add(npcKey(c.NPC.ID), c.NPC); err != nil {
			return err
		}
	}
	for _, m := range c.Memories {
		if err := add(memoryKey(m.NPCID, m.ID), m); err != nil {
			return err
		}
	}
	for _, f := range c.Facts {
		if err := add(factKey(f.PersonaID, f.ID), f); err != nil {
			return err
		}
	}
	if err := add(traceKey(c.Trace.NPCID, c.Trace.ID), c.Trace); err != nil {
		return err
	}
	entries = append(entries, entry{traceIndexKey(c.Trace.ID), []byte(c.Trace.NPCID)})

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(npcKey(c.Trace.NPCID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return model.NewNotFound("npc", c.Trace.NPCID)
			}
			return err
		}
		for _, e := range entries {
			if err := txn.Set(e.key, e.val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the Badger database.
func (b *BadgerStorage) Close() error {
	if !b.config.InMemory {
		// Best effort; ErrNoRewrite just means there was nothing to collect.
		_ = b.db.RunValueLogGC(0.5)
	}
	return b.db.Close()
}

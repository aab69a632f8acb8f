// Package memory manages the episodic memories of NPCs.
//
// A memory lands in the long_term tier when its importance meets the owning
// NPC's importance_threshold and in short_term otherwise. Only long_term
// memories are pushed into the episodic vector collection. Deletes touch the
// store alone: a deleted memory stays retrievable until the episodic
// collection is reindexed.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
	"github.com/npcforge/npcforge/pkg/vector"
)

// Listing bounds.
const (
	DefaultListLimit   = 50
	MaxListLimit       = 500
	DefaultRecentLimit = 10
)

// Indexer receives long_term memories for vector retrieval.
type Indexer interface {
	Upsert(ctx context.Context, kind vector.Kind, docs ...vector.Document) error
}

// MetricsRecorder records memory creation.
type MetricsRecorder interface {
	RecordMemoryCreated(memoryType string)
}

type noopMetrics struct{}

func (noopMetrics) RecordMemoryCreated(string) {}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is the memory service used by the transport and the turn engine.
type Store struct {
	store   storage.Storage
	index   Indexer
	log     logger.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// NewStore creates a Store. index may be nil, in which case nothing is
// vectorized.
func NewStore(store storage.Storage, index Indexer, opts ...Option) *Store {
	s := &Store{
		store:   store,
		index:   index,
		log:     logger.Nop(),
		metrics: noopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build assembles a memory for npc without saving it. The tier follows the
// NPC's importance threshold.
func (s *Store) Build(npc *model.NPC, content string, source model.Source, importance float64, tags, linked []string) *model.Memory {
	if tags == nil {
		tags = []string{}
	}
	if linked == nil {
		linked = []string{}
	}
	return &model.Memory{
		ID:             model.NewID(model.PrefixMemory),
		NPCID:          npc.ID,
		MemoryType:     model.TierFor(importance, npc.Config.ImportanceThreshold),
		Content:        content,
		Source:         source,
		Importance:     importance,
		Tags:           tags,
		LinkedEntities: linked,
		CreatedAt:      s.now().UTC(),
	}
}

// Create writes a memory for an existing NPC.
func (s *Store) Create(ctx context.Context, npcID string, in model.MemoryInput) (*model.Memory, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, model.NewValidation("content", "must not be blank")
	}
	npc, err := s.store.GetNPC(ctx, npcID)
	if err != nil {
		return nil, err
	}

	source, _ := model.ParseSource(in.Source)
	importance := model.DefaultImportance
	if in.Importance != nil {
		importance = *in.Importance
	}
	m := s.Build(npc, in.Content, source, importance, in.Tags, in.LinkedEntities)

	if err := s.store.SaveMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("memory: save failed: %w", err)
	}
	s.metrics.RecordMemoryCreated(string(m.MemoryType))
	s.Vectorize(ctx, m)

	s.log.DebugContext(ctx, "memory created",
		"npc_id", npcID, "memory_id", m.ID, "memory_type", m.MemoryType, "importance", m.Importance)
	return m, nil
}

// Vectorize pushes long_term memories into the episodic collection. Failures
// are logged; a reindex repairs them.
func (s *Store) Vectorize(ctx context.Context, memories ...*model.Memory) {
	if s.index == nil {
		return
	}
	var docs []vector.Document
	for _, m := range memories {
		if m.MemoryType == model.LongTerm {
			docs = append(docs, vector.MemoryDocument(m))
		}
	}
	if len(docs) == 0 {
		return
	}
	if err := s.index.Upsert(ctx, vector.Episodic, docs...); err != nil {
		s.log.WarnContext(ctx, "memory vectorization failed", "count", len(docs), "error", err)
	}
}

// List returns an NPC's memories newest first.
func (s *Store) List(ctx context.Context, npcID string, filter model.MemoryFilter) ([]*model.Memory, error) {
	limit, err := model.ResolveLimit("limit", filter.Limit, DefaultListLimit, MaxListLimit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit
	if _, err := s.store.GetNPC(ctx, npcID); err != nil {
		return nil, err
	}
	memories, err := s.store.ListMemories(ctx, npcID, filter)
	if err != nil {
		return nil, fmt.Errorf("memory: list failed: %w", err)
	}
	return memories, nil
}

// Recent returns the newest memories of one tier, short_term by default.
func (s *Store) Recent(ctx context.Context, npcID string, memoryType model.MemoryType, limit int) ([]*model.Memory, error) {
	if memoryType == "" {
		memoryType = model.ShortTerm
	}
	limit, err := model.ResolveLimit("limit", limit, DefaultRecentLimit, MaxListLimit)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, npcID, model.MemoryFilter{MemoryType: memoryType, Limit: limit})
}

// Get returns one memory of an NPC.
func (s *Store) Get(ctx context.Context, npcID, memoryID string) (*model.Memory, error) {
	if _, err := s.store.GetNPC(ctx, npcID); err != nil {
		return nil, err
	}
	return s.store.GetMemory(ctx, npcID, memoryID)
}

// Delete hard-deletes one memory. The vector index is left untouched.
func (s *Store) Delete(ctx context.Context, npcID, memoryID string) error {
	if _, err := s.store.GetNPC(ctx, npcID); err != nil {
		return err
	}
	if err := s.store.DeleteMemory(ctx, npcID, memoryID); err != nil {
		return err
	}
	s.log.DebugContext(ctx, "memory deleted", "npc_id", npcID, "memory_id", memoryID)
	return nil
}

// DeleteByTier removes every memory of an NPC in one tier, or in all tiers
// when memoryType is empty, and returns how many were removed.
func (s *Store) DeleteByTier(ctx context.Context, npcID string, memoryType model.MemoryType) (int, error) {
	if _, err := s.store.GetNPC(ctx, npcID); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteMemories(ctx, npcID, memoryType)
	if err != nil {
		return 0, fmt.Errorf("memory: delete failed: %w", err)
	}
	s.log.InfoContext(ctx, "memories deleted", "npc_id", npcID, "memory_type", memoryType, "count", n)
	return n, nil
}

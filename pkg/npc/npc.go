// Package npc is the catalog of NPCs, personas, persona facts and worlds.
//
// It enforces referential integrity between the entities, performs cascade
// deletes and keeps the persona and world vector collections in step with
// the store.
package npc

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/npcforge/npcforge/pkg/lane"
	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
	"github.com/npcforge/npcforge/pkg/vector"
)

// NPC listing bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

var suggestedIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

// Indexer is the subset of the vector index the catalog maintains.
type Indexer interface {
	Upsert(ctx context.Context, kind vector.Kind, docs ...vector.Document) error
	DeleteWhere(ctx context.Context, kind vector.Kind, where map[string]string) (int, error)
}

// Service implements catalog operations on top of storage.
type Service struct {
	store    storage.Storage
	index    Indexer
	reasoner llm.Client
	locker   lane.Locker
	defaults model.NPCConfig
	log      logger.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithReasoner sets the client used by Generate.
func WithReasoner(c llm.Client) Option {
	return func(s *Service) { s.reasoner = c }
}

// WithLocker sets the per-NPC lane shared with the turn engine. NPC updates
// and deletes wait for an in-flight turn of the same NPC to commit.
func WithLocker(l lane.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithDefaults sets the config given to NPCs created without one.
func WithDefaults(cfg model.NPCConfig) Option {
	return func(s *Service) { s.defaults = cfg }
}

// NewService creates a catalog service. index may be nil.
func NewService(store storage.Storage, index Indexer, opts ...Option) *Service {
	s := &Service{
		store:    store,
		index:    index,
		defaults: model.DefaultNPCConfig(),
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lane.NewLocalLocker(lane.WithLogger(s.log))
	}
	return s
}

func (s *Service) lockNPC(ctx context.Context, id string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("npc: acquire npc lock failed: %w", err)
	}
	return unlock, nil
}

// CreateNPC validates in and stores a new NPC.
func (s *Service) CreateNPC(ctx context.Context, in model.NPCInput) (*model.NPC, error) {
	cfg, err := s.resolveConfig(in.Config, s.defaults)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateStruct(in); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, in.PersonaID, in.WorldID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	n := &model.NPC{
		ID:           model.NewID(model.PrefixNPC),
		Name:         in.Name,
		Role:         in.Role,
		PersonaID:    in.PersonaID,
		WorldID:      in.WorldID,
		CurrentState: copyState(in.CurrentState),
		Config:       cfg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.SaveNPC(ctx, n); err != nil {
		return nil, fmt.Errorf("npc: save failed: %w", err)
	}
	s.log.InfoContext(ctx, "npc created", "npc_id", n.ID, "name", n.Name, "persona_id", n.PersonaID, "world_id", n.WorldID)
	return n, nil
}

// GetNPC returns one NPC.
func (s *Service) GetNPC(ctx context.Context, id string) (*model.NPC, error) {
	return s.store.GetNPC(ctx, id)
}

// ListNPCs lists NPCs, optionally of one world.
func (s *Service) ListNPCs(ctx context.Context, filter model.NPCFilter) ([]*model.NPC, error) {
	limit, err := model.ResolveLimit("limit", filter.Limit, DefaultListLimit, MaxListLimit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit
	return s.store.ListNPCs(ctx, filter)
}

// UpdateNPC replaces the client-settable fields of an NPC. A nil config
// keeps the current one.
func (s *Service) UpdateNPC(ctx context.Context, id string, in model.NPCInput) (*model.NPC, error) {
	unlock, err := s.lockNPC(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.store.GetNPC(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := s.resolveConfig(in.Config, current.Config)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateStruct(in); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, in.PersonaID, in.WorldID); err != nil {
		return nil, err
	}

	updated := current.Clone()
	updated.Name = in.Name
	updated.Role = in.Role
	updated.PersonaID = in.PersonaID
	updated.WorldID = in.WorldID
	if in.CurrentState != nil {
		updated.CurrentState = copyState(in.CurrentState)
	}
	updated.Config = cfg
	updated.UpdatedAt = s.now().UTC()

	if err := s.store.SaveNPC(ctx, updated); err != nil {
		return nil, fmt.Errorf("npc: save failed: %w", err)
	}
	return updated, nil
}

// UpdateNPCConfig replaces only the NPC's tuning config.
func (s *Service) UpdateNPCConfig(ctx context.Context, id string, cfg model.NPCConfig) (*model.NPC, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	unlock, err := s.lockNPC(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, err := s.store.GetNPC(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Config = cfg
	n.UpdatedAt = s.now().UTC()
	if err := s.store.SaveNPC(ctx, n); err != nil {
		return nil, fmt.Errorf("npc: save failed: %w", err)
	}
	s.log.InfoContext(ctx, "npc config updated", "npc_id", id,
		"retrieval_top_k", cfg.RetrievalTopK, "importance_threshold", cfg.ImportanceThreshold)
	return n, nil
}

// DeleteResult reports what a delete removed.
type DeleteResult struct {
	Deleted          string `json:"deleted"`
	NPCsDeleted      int    `json:"npcs_deleted,omitempty"`
	MemoriesDeleted  int    `json:"memories_deleted"`
	TracesDeleted    int    `json:"traces_deleted"`
	FactsDeleted     int    `json:"facts_deleted"`
	VectorsDeleted   int    `json:"vectors_deleted"`
	CascadeRequested bool   `json:"cascade"`
}

// DeleteNPC removes an NPC. With cascade its memories, traces, NPC-scoped
// persona facts and their vectors go too.
func (s *Service) DeleteNPC(ctx context.Context, id string, cascade bool) (*DeleteResult, error) {
	unlock, err := s.lockNPC(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.store.GetNPC(ctx, id); err != nil {
		return nil, err
	}
	res := &DeleteResult{Deleted: id, CascadeRequested: cascade}
	if cascade {
		if err := s.cascadeNPC(ctx, id, res); err != nil {
			return nil, err
		}
	}
	if err := s.store.DeleteNPC(ctx, id); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "npc deleted", "npc_id", id, "cascade", cascade,
		"memories", res.MemoriesDeleted, "traces", res.TracesDeleted, "facts", res.FactsDeleted)
	return res, nil
}

func (s *Service) cascadeNPC(ctx context.Context, id string, res *DeleteResult) error {
	var err error
	if res.MemoriesDeleted, err = s.store.DeleteMemories(ctx, id, ""); err != nil {
		return fmt.Errorf("npc: delete memories failed: %w", err)
	}
	if res.TracesDeleted, err = s.store.DeleteTraces(ctx, id); err != nil {
		return fmt.Errorf("npc: delete traces failed: %w", err)
	}
	if res.FactsDeleted, err = s.store.DeletePersonaFacts(ctx, storage.FactFilter{NPCID: id}); err != nil {
		return fmt.Errorf("npc: delete facts failed: %w", err)
	}
	where := map[string]string{vector.MetaNPCID: id}
	res.VectorsDeleted += s.unindex(ctx, vector.Episodic, where)
	res.VectorsDeleted += s.unindex(ctx, vector.Persona, where)
	return nil
}

func (s *Service) resolveConfig(in *model.NPCConfig, fallback model.NPCConfig) (model.NPCConfig, error) {
	if in == nil {
		return fallback, nil
	}
	if err := in.Validate(); err != nil {
		return model.NPCConfig{}, err
	}
	return *in, nil
}

func (s *Service) checkReferences(ctx context.Context, personaID, worldID string) error {
	if _, err := s.store.GetPersona(ctx, personaID); err != nil {
		return err
	}
	if _, err := s.store.GetWorld(ctx, worldID); err != nil {
		return err
	}
	return nil
}

// checkSuggestedID validates a client-suggested id that must not exist yet.
func checkSuggestedID(field, id string, lookup func() (bool, error)) error {
	if !suggestedIDPattern.MatchString(id) {
		return model.NewValidation(field, "must match %s", suggestedIDPattern.String())
	}
	taken, err := lookup()
	if err != nil {
		return err
	}
	if taken {
		return model.NewValidation(field, "%q already exists", id)
	}
	return nil
}

func (s *Service) reindex(ctx context.Context, kind vector.Kind, where map[string]string, docs []vector.Document) {
	if s.index == nil {
		return
	}
	s.unindex(ctx, kind, where)
	if len(docs) == 0 {
		return
	}
	if err := s.index.Upsert(ctx, kind, docs...); err != nil {
		s.log.WarnContext(ctx, "vector upsert failed", "index_type", kind, "count", len(docs), "error", err)
	}
}

func (s *Service) unindex(ctx context.Context, kind vector.Kind, where map[string]string) int {
	if s.index == nil {
		return 0
	}
	n, err := s.index.DeleteWhere(ctx, kind, where)
	if err != nil {
		s.log.WarnContext(ctx, "vector delete failed", "index_type", kind, "error", err)
	}
	return n
}

func copyState(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

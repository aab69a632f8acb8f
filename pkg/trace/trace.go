// Package trace records the immutable inference trace of every turn.
//
// Traces are append-only. They are written as part of a turn commit and can
// afterwards only be read or deleted.
package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
)

// Listing bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// Store is the persistence the recorder needs.
type Store interface {
	GetTrace(ctx context.Context, id string) (*model.Trace, error)
	ListTraces(ctx context.Context, npcID string, limit, offset int) ([]*model.Trace, int, error)
	DeleteTrace(ctx context.Context, id string) error
	DeleteTraces(ctx context.Context, npcID string) (int, error)
}

var _ Store = storage.Storage(nil)

// Recorder builds and queries traces.
type Recorder struct {
	store Store
	log   logger.Logger
	now   func() time.Time
}

// NewRecorder creates a Recorder. A nil log uses logger.Nop.
func NewRecorder(store Store, log logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{store: store, log: log, now: time.Now}
}

// Build stamps draft with a fresh id and creation time. Nil slices and maps
// become empty so the stored trace always serializes the same shape.
func (r *Recorder) Build(draft model.Trace) *model.Trace {
	t := draft
	t.ID = model.NewID(model.PrefixTrace)
	t.CreatedAt = r.now().UTC()
	if t.TurnID == "" {
		t.TurnID = model.NewID(model.PrefixTurn)
	}
	if t.RetrievedMemories == nil {
		t.RetrievedMemories = []string{}
	}
	if t.RetrievalIndices == nil {
		t.RetrievalIndices = []string{}
	}
	if t.RetrievalVectorIDs == nil {
		t.RetrievalVectorIDs = []string{}
	}
	if t.RetrievalScores == nil {
		t.RetrievalScores = []float64{}
	}
	if t.ToolArguments == nil {
		t.ToolArguments = map[string]interface{}{}
	}
	return &t
}

// Get returns one trace.
func (r *Recorder) Get(ctx context.Context, id string) (*model.Trace, error) {
	return r.store.GetTrace(ctx, id)
}

// List returns a page of an NPC's traces newest first and the total count.
func (r *Recorder) List(ctx context.Context, npcID string, limit, offset int) ([]*model.Trace, int, error) {
	limit, err := model.ResolveLimit("limit", limit, DefaultListLimit, MaxListLimit)
	if err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		return nil, 0, model.NewValidation("offset", "must not be negative, got %d", offset)
	}
	traces, total, err := r.store.ListTraces(ctx, npcID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("trace: list failed: %w", err)
	}
	return traces, total, nil
}

// Delete removes one trace.
func (r *Recorder) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteTrace(ctx, id); err != nil {
		return err
	}
	r.log.DebugContext(ctx, "trace deleted", "trace_id", id)
	return nil
}

// DeleteByNPC removes every trace of an NPC and returns how many were removed.
func (r *Recorder) DeleteByNPC(ctx context.Context, npcID string) (int, error) {
	n, err := r.store.DeleteTraces(ctx, npcID)
	if err != nil {
		return 0, fmt.Errorf("trace: delete failed: %w", err)
	}
	r.log.InfoContext(ctx, "traces deleted", "npc_id", npcID, "count", n)
	return n, nil
}

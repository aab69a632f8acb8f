package trace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
	memstore "github.com/npcforge/npcforge/pkg/storage/memory"
)

func commitTraces(t *testing.T, st storage.Storage, r *Recorder, npcID string, n int) []*model.Trace {
	t.Helper()

	ctx := context.Background()
	if _, err := st.GetNPC(ctx, npcID); model.IsNotFound(err) {
		require.NoError(t, st.SaveNPC(ctx, &model.NPC{ID: npcID, Config: model.DefaultNPCConfig()}))
	}

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]*model.Trace, 0, n)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		r.now = func() time.Time { return ts }
		tr := r.Build(model.Trace{
			NPCID:        npcID,
			Observation:  &model.Observation{Action: "Hello"},
			ChosenAction: "talk",
		})
		require.NoError(t, st.CommitTurn(ctx, &storage.TurnCommit{Trace: tr}))
		out = append(out, tr)
	}
	return out
}

func TestBuild(t *testing.T) {
	r := NewRecorder(memstore.NewMemoryStorage(), nil)

	tr := r.Build(model.Trace{NPCID: "npc_1", TurnID: "turn_given"})
	assert.Regexp(t, `^trace_[0-9a-f]{8}$`, tr.ID)
	assert.Equal(t, "turn_given", tr.TurnID)
	assert.False(t, tr.CreatedAt.IsZero())
	assert.NotNil(t, tr.RetrievedMemories)
	assert.NotNil(t, tr.RetrievalScores)
	assert.NotNil(t, tr.ToolArguments)

	other := r.Build(model.Trace{NPCID: "npc_1"})
	assert.NotEqual(t, tr.ID, other.ID)
	assert.Regexp(t, `^turn_[0-9a-f]{8}$`, other.TurnID)
}

func TestList_Pagination(t *testing.T) {
	st := memstore.NewMemoryStorage()
	r := NewRecorder(st, nil)
	committed := commitTraces(t, st, r, "npc_1", 25)
	commitTraces(t, st, r, "npc_2", 3)

	page, total, err := r.List(context.Background(), "npc_1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	require.Len(t, page, DefaultListLimit)
	assert.Equal(t, committed[24].ID, page[0].ID, "newest first")

	page, total, err = r.List(context.Background(), "npc_1", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, page, 5)

	for _, tc := range []struct {
		limit, offset int
	}{{201, 0}, {-1, 0}, {10, -1}} {
		_, _, err := r.List(context.Background(), "npc_1", tc.limit, tc.offset)
		assert.True(t, model.IsValidation(err), "limit=%d offset=%d", tc.limit, tc.offset)
	}
}

func TestDelete(t *testing.T) {
	st := memstore.NewMemoryStorage()
	r := NewRecorder(st, nil)
	ctx := context.Background()
	traces := commitTraces(t, st, r, "npc_1", 3)
	commitTraces(t, st, r, "npc_2", 2)

	got, err := r.Get(ctx, traces[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "talk", got.ChosenAction)

	require.NoError(t, r.Delete(ctx, traces[0].ID))
	_, err = r.Get(ctx, traces[0].ID)
	assert.True(t, model.IsNotFound(err))
	assert.True(t, model.IsNotFound(r.Delete(ctx, traces[0].ID)))

	n, err := r.DeleteByNPC(ctx, "npc_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, total, err := r.List(ctx, "npc_2", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total, "other NPCs keep their traces")
}

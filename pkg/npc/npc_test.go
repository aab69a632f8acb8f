package npc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcforge/npcforge/pkg/lane"
	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
	memstore "github.com/npcforge/npcforge/pkg/storage/memory"
	"github.com/npcforge/npcforge/pkg/vector"
)

type fixture struct {
	svc   *Service
	store storage.Storage
	index *vector.Index
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	st := memstore.NewMemoryStorage()
	backend, err := vector.NewFlatBackend("")
	require.NoError(t, err)
	index, err := vector.NewIndex(backend, vector.NewHashEmbedder(64))
	require.NoError(t, err)

	return &fixture{svc: NewService(st, index, opts...), store: st, index: index}
}

func (f *fixture) seed(t *testing.T) (*model.Persona, *model.World) {
	t.Helper()
	ctx := context.Background()

	p, err := f.svc.CreatePersona(ctx, model.PersonaInput{
		Name:        "Gandalf",
		Traits:      []string{"wise", "patient"},
		Goals:       []string{"guide the hobbits"},
		Background:  "A wandering wizard",
		SpeechStyle: "archaic",
	})
	require.NoError(t, err)

	w, err := f.svc.CreateWorld(ctx, model.WorldInput{
		WorldID: "middle_earth",
		Title:   "Middle-earth",
		Rules: model.WorldRules{
			Laws:     []string{"No sorcery in the Shire"},
			Factions: map[string]string{"Istari": "wizards"},
		},
		Locations: map[string]map[string]interface{}{"shire": {"safe": true}},
	})
	require.NoError(t, err)
	return p, w
}

func TestNPC_CreateAndReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, w := f.seed(t)

	n, err := f.svc.CreateNPC(ctx, model.NPCInput{Name: "Gandalf", Role: "wizard", PersonaID: p.ID, WorldID: w.ID})
	require.NoError(t, err)
	assert.Regexp(t, `^npc_[0-9a-f]{8}$`, n.ID)
	assert.Equal(t, model.DefaultNPCConfig(), n.Config)
	assert.NotNil(t, n.CurrentState)

	tests := []struct {
		name  string
		in    model.NPCInput
		check func(error) bool
	}{
		{"missing name", model.NPCInput{PersonaID: p.ID, WorldID: w.ID}, model.IsValidation},
		{"unknown persona", model.NPCInput{Name: "x", PersonaID: "persona_nope", WorldID: w.ID}, model.IsNotFound},
		{"unknown world", model.NPCInput{Name: "x", PersonaID: p.ID, WorldID: "world_nope"}, model.IsNotFound},
		{"bad config", model.NPCInput{Name: "x", PersonaID: p.ID, WorldID: w.ID, Config: &model.NPCConfig{RetrievalTopK: 99, MaxFactsPerDimension: 1}}, model.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateNPC(ctx, tt.in)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestNPC_UpdateAndConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, w := f.seed(t)

	n, err := f.svc.CreateNPC(ctx, model.NPCInput{
		Name: "Gandalf", PersonaID: p.ID, WorldID: w.ID,
		CurrentState: map[string]interface{}{"emotion": "calm"},
	})
	require.NoError(t, err)

	updated, err := f.svc.UpdateNPC(ctx, n.ID, model.NPCInput{Name: "Gandalf the White", PersonaID: p.ID, WorldID: w.ID})
	require.NoError(t, err)
	assert.Equal(t, "Gandalf the White", updated.Name)
	assert.Equal(t, "calm", updated.StateString(model.StateEmotion), "nil state keeps the current one")
	assert.Equal(t, n.CreatedAt, updated.CreatedAt)

	_, err = f.svc.UpdateNPC(ctx, "npc_missing", model.NPCInput{Name: "x", PersonaID: p.ID, WorldID: w.ID})
	assert.True(t, model.IsNotFound(err))

	cfg := model.NPCConfig{RetrievalTopK: 10, ImportanceThreshold: 0.5, ReflectionThreshold: 0.9, MaxFactsPerDimension: 5}
	got, err := f.svc.UpdateNPCConfig(ctx, n.ID, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg, got.Config)

	_, err = f.svc.UpdateNPCConfig(ctx, n.ID, model.NPCConfig{RetrievalTopK: 0, MaxFactsPerDimension: 1})
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "retrieval_top_k", ve.Field)
}

func TestNPC_UpdateWaitsForLane(t *testing.T) {
	locker := lane.NewLocalLocker()
	f := newFixture(t, WithLocker(locker))
	ctx := context.Background()
	p, w := f.seed(t)

	n, err := f.svc.CreateNPC(ctx, model.NPCInput{Name: "Gandalf", PersonaID: p.ID, WorldID: w.ID})
	require.NoError(t, err)
	stale := n.Clone()

	// Hold the lane like a running turn, which writes its snapshot back
	// before releasing it.
	unlock, err := locker.Lock(ctx, n.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		cfg := model.DefaultNPCConfig()
		cfg.RetrievalTopK = 9
		_, err := f.svc.UpdateNPCConfig(ctx, n.ID, cfg)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("update finished while the lane was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, f.store.SaveNPC(ctx, stale))
	unlock()
	require.NoError(t, <-done)

	got, err := f.svc.GetNPC(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Config.RetrievalTopK)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	unlock, err = locker.Lock(ctx, n.ID)
	require.NoError(t, err)
	defer unlock()
	_, err = f.svc.DeleteNPC(short, n.ID, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNPC_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, w := f.seed(t)
	other, err := f.svc.CreateWorld(ctx, model.WorldInput{Title: "Elsewhere"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateNPC(ctx, model.NPCInput{Name: "a", PersonaID: p.ID, WorldID: w.ID})
		require.NoError(t, err)
	}
	_, err = f.svc.CreateNPC(ctx, model.NPCInput{Name: "b", PersonaID: p.ID, WorldID: other.ID})
	require.NoError(t, err)

	all, err := f.svc.ListNPCs(ctx, model.NPCFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	inWorld, err := f.svc.WorldNPCs(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, inWorld, 3)

	limited, err := f.svc.ListNPCs(ctx, model.NPCFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = f.svc.ListNPCs(ctx, model.NPCFilter{Limit: 1001})
	assert.True(t, model.IsValidation(err))
}

func TestNPC_DeleteCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, w := f.seed(t)

	n, err := f.svc.CreateNPC(ctx, model.NPCInput{Name: "Gandalf", PersonaID: p.ID, WorldID: w.ID})
	require.NoError(t, err)

	mem := &model.Memory{ID: "mem_00000001", NPCID: n.ID, MemoryType: model.LongTerm, Content: "met Frodo"}
	require.NoError(t, f.store.SaveMemory(ctx, mem))
	require.NoError(t, f.index.Upsert(ctx, vector.Episodic, vector.MemoryDocument(mem)))
	_, err = f.svc.AddFact(ctx, p.ID, model.PersonaFactInput{NPCID: n.ID, Dimension: "experience", Content: "Fought a Balrog"})
	require.NoError(t, err)
	shared, err := f.svc.AddFact(ctx, p.ID, model.PersonaFactInput{Dimension: "characteristic", Content: "Loves fireworks"})
	require.NoError(t, err)

	res, err := f.svc.DeleteNPC(ctx, n.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.MemoriesDeleted)
	assert.Equal(t, 1, res.FactsDeleted)
	assert.Equal(t, 2, res.VectorsDeleted, "episodic memory and npc-scoped fact vectors")

	_, err = f.svc.GetNPC(ctx, n.ID)
	assert.True(t, model.IsNotFound(err))

	facts, err := f.svc.ListFacts(ctx, p.ID, "")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, shared.ID, facts[0].ID, "persona-wide facts survive")

	_, err = f.svc.DeleteNPC(ctx, n.ID, false)
	assert.True(t, model.IsNotFound(err))
}

func TestPersona_SuggestedIDAndVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.CreatePersona(ctx, model.PersonaInput{PersonaID: "wizard_persona", Name: "Wizard", Traits: []string{"wise"}, Background: "old"})
	require.NoError(t, err)
	assert.Equal(t, "wizard_persona", p.ID)
	assert.Equal(t, 2, f.index.Stats()[vector.Persona].VectorCount)

	_, err = f.svc.CreatePersona(ctx, model.PersonaInput{PersonaID: "wizard_persona", Name: "Again"})
	assert.True(t, model.IsValidation(err), "taken id")
	_, err = f.svc.CreatePersona(ctx, model.PersonaInput{PersonaID: "bad id!", Name: "Again"})
	assert.True(t, model.IsValidation(err), "malformed id")

	updated, err := f.svc.UpdatePersona(ctx, p.ID, model.PersonaInput{Name: "Wizard", Traits: []string{"wise", "kind"}})
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, updated.CreatedAt)
	assert.Equal(t, 1, f.index.Stats()[vector.Persona].VectorCount, "stale chunks are replaced")
}

func TestPersona_Facts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.seed(t)

	fact, err := f.svc.AddFact(ctx, p.ID, model.PersonaFactInput{Dimension: "habits", Content: "  Smokes a pipe  "})
	require.NoError(t, err)
	assert.Equal(t, model.DimensionRoutineHabit, fact.Dimension)
	assert.Equal(t, "Smokes a pipe", fact.Content)
	assert.True(t, fact.IsStatic)
	assert.Equal(t, model.FactSourceAuthored, fact.Source)

	hits, err := f.index.Search(ctx, vector.Persona, "pipe", 10, map[string]string{vector.MetaSourceType: vector.SourceFact})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, fact.ID, hits[0].SourceID)

	_, err = f.svc.AddFact(ctx, p.ID, model.PersonaFactInput{Dimension: "mood", Content: "x"})
	assert.True(t, model.IsValidation(err))
	_, err = f.svc.AddFact(ctx, "persona_nope", model.PersonaFactInput{Dimension: "goal", Content: "x"})
	assert.True(t, model.IsNotFound(err))
	_, err = f.svc.AddFact(ctx, p.ID, model.PersonaFactInput{NPCID: "npc_nope", Dimension: "goal", Content: "x"})
	assert.True(t, model.IsNotFound(err))
}

func TestPersona_DeleteBlockedWhileInUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, w := f.seed(t)

	n, err := f.svc.CreateNPC(ctx, model.NPCInput{Name: "Gandalf", PersonaID: p.ID, WorldID: w.ID})
	require.NoError(t, err)

	_, err = f.svc.DeletePersona(ctx, p.ID)
	assert.True(t, model.IsValidation(err))

	_, err = f.svc.DeleteNPC(ctx, n.ID, false)
	require.NoError(t, err)
	res, err := f.svc.DeletePersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Greater(t, res.VectorsDeleted, 0)
	assert.Equal(t, 0, f.index.Stats()[vector.Persona].VectorCount)
}

func TestWorld_DeleteCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, w := f.seed(t)
	assert.Equal(t, 3, f.index.Stats()[vector.World].VectorCount)

	_, err := f.svc.CreateWorld(ctx, model.WorldInput{WorldID: w.ID, Title: "dup"})
	assert.True(t, model.IsValidation(err))

	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateNPC(ctx, model.NPCInput{Name: "hobbit", PersonaID: p.ID, WorldID: w.ID})
		require.NoError(t, err)
	}

	_, err = f.svc.DeleteWorld(ctx, w.ID, false)
	assert.True(t, model.IsValidation(err), "npcs block a plain delete")

	res, err := f.svc.DeleteWorld(ctx, w.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NPCsDeleted)
	assert.Equal(t, 0, f.index.Stats()[vector.World].VectorCount)

	_, err = f.svc.GetWorld(ctx, w.ID)
	assert.True(t, model.IsNotFound(err))
	_, err = f.svc.WorldNPCs(ctx, w.ID)
	assert.True(t, model.IsNotFound(err))
}

func TestGenerate_Offline(t *testing.T) {
	f := newFixture(t, WithReasoner(llm.NewOffline()))
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, GenerateInput{Description: "A grumpy blacksmith named Borin who hates elves"})
	require.NoError(t, err)
	assert.True(t, res.WorldCreated)
	assert.Equal(t, "Borin", res.Persona.Name)
	assert.Equal(t, "Borin", res.NPC.Name)
	assert.Equal(t, "blacksmith", res.NPC.Role)
	assert.Equal(t, res.Persona.ID, res.NPC.PersonaID)
	assert.Equal(t, res.World.ID, res.NPC.WorldID)
	assert.Equal(t, "unknown", res.NPC.StateString(model.StateLocation))

	_, w := f.seed(t)
	res, err = f.svc.Generate(ctx, GenerateInput{Description: "a guard", Role: "captain", WorldID: w.ID})
	require.NoError(t, err)
	assert.False(t, res.WorldCreated)
	assert.Equal(t, w.ID, res.NPC.WorldID)
	assert.Equal(t, "captain", res.NPC.Role)
}

func TestGenerate_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("blank description", func(t *testing.T) {
		f := newFixture(t, WithReasoner(llm.NewOffline()))
		_, err := f.svc.Generate(ctx, GenerateInput{Description: "   "})
		assert.True(t, model.IsValidation(err))
	})

	t.Run("unknown world", func(t *testing.T) {
		f := newFixture(t, WithReasoner(llm.NewOffline()))
		_, err := f.svc.Generate(ctx, GenerateInput{Description: "a guard", WorldID: "world_nope"})
		assert.True(t, model.IsNotFound(err))
	})

	t.Run("unparseable answer", func(t *testing.T) {
		reasoner := llm.ClientFunc(func(context.Context, *llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: "I cannot do that"}, nil
		})
		f := newFixture(t, WithReasoner(reasoner))
		_, err := f.svc.Generate(ctx, GenerateInput{Description: "a guard"})
		var ue *model.UpstreamError
		assert.True(t, errors.As(err, &ue))

		personas, err := f.svc.ListPersonas(ctx)
		require.NoError(t, err)
		assert.Empty(t, personas, "nothing is stored")
	})

	t.Run("no reasoner", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Generate(ctx, GenerateInput{Description: "a guard"})
		assert.Error(t, err)
	})
}

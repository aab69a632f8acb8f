package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcforge/npcforge/pkg/model"
)

// StorageTestSuite defines a test suite that can be run against any Storage implementation.
type StorageTestSuite struct {
	NewStorage func(t *testing.T) Storage
}

// RunAllTests runs all storage tests against the provided storage implementation.
func (s *StorageTestSuite) RunAllTests(t *testing.T) {
	t.Run("NPCCRUD", s.TestNPCCRUD)
	t.Run("PersonaAndWorld", s.TestPersonaAndWorld)
	t.Run("PersonaFacts", s.TestPersonaFacts)
	t.Run("MemoryTiers", s.TestMemoryTiers)
	t.Run("MemoryListing", s.TestMemoryListing)
	t.Run("CommitTurn", s.TestCommitTurn)
	t.Run("CommitTurnUnknownNPC", s.TestCommitTurnUnknownNPC)
	t.Run("TracePagination", s.TestTracePagination)
	t.Run("Tools", s.TestTools)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
	t.Run("NotFound", s.TestNotFound)
}

func seedNPC(t *testing.T, store Storage, id, worldID string) *model.NPC {
	t.Helper()
	npc := &model.NPC{
		ID:           id,
		Name:         "Gandalf",
		Role:         "wizard",
		PersonaID:    "persona_1",
		WorldID:      worldID,
		CurrentState: map[string]interface{}{"location": "shire"},
		Config:       model.DefaultNPCConfig(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, store.SaveNPC(context.Background(), npc))
	return npc
}

func newMemory(npcID, id string, tier model.MemoryType, at time.Time) *model.Memory {
	return &model.Memory{
		ID:         id,
		NPCID:      npcID,
		MemoryType: tier,
		Content:    "memory " + id,
		Source:     model.SourceObservation,
		Importance: 0.5,
		CreatedAt:  at,
	}
}

// TestNPCCRUD tests basic NPC operations.
func (s *StorageTestSuite) TestNPCCRUD(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	seedNPC(t, store, "npc_a", "world_1")
	seedNPC(t, store, "npc_b", "world_2")

	got, err := store.GetNPC(ctx, "npc_a")
	require.NoError(t, err)
	assert.Equal(t, "Gandalf", got.Name)
	assert.Equal(t, "shire", got.StateString("location"))
	assert.Equal(t, 0.7, got.Config.ImportanceThreshold)

	got.Name = "Gandalf the White"
	require.NoError(t, store.SaveNPC(ctx, got))
	got, err = store.GetNPC(ctx, "npc_a")
	require.NoError(t, err)
	assert.Equal(t, "Gandalf the White", got.Name)

	all, err := store.ListNPCs(ctx, model.NPCFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inWorld, err := store.ListNPCs(ctx, model.NPCFilter{WorldID: "world_2"})
	require.NoError(t, err)
	require.Len(t, inWorld, 1)
	assert.Equal(t, "npc_b", inWorld[0].ID)

	limited, err := store.ListNPCs(ctx, model.NPCFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.DeleteNPC(ctx, "npc_a"))
	_, err = store.GetNPC(ctx, "npc_a")
	assert.True(t, model.IsNotFound(err))
}

// TestPersonaAndWorld tests persona and world persistence.
func (s *StorageTestSuite) TestPersonaAndWorld(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	p := &model.Persona{
		ID:            "persona_1",
		Name:          "Grey Wanderer",
		Traits:        []string{"wise", "patient"},
		Relationships: map[string]string{"frodo": "friend"},
		Constraints:   map[string]interface{}{"taboos": []interface{}{"lying"}},
	}
	require.NoError(t, store.SavePersona(ctx, p))
	gotP, err := store.GetPersona(ctx, "persona_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"wise", "patient"}, gotP.Traits)
	assert.Equal(t, "friend", gotP.Relationships["frodo"])

	w := &model.World{
		ID:    "world_1",
		Title: "Middle-earth",
		Rules: model.WorldRules{
			Laws:     []string{"No magic in the market"},
			Factions: map[string]string{"fellowship": "nine walkers"},
		},
		DangerLevels: map[string]float64{"mordor": 0.95},
	}
	require.NoError(t, store.SaveWorld(ctx, w))
	gotW, err := store.GetWorld(ctx, "world_1")
	require.NoError(t, err)
	assert.Equal(t, "Middle-earth", gotW.Title)
	assert.Equal(t, 0.95, gotW.DangerLevels["mordor"])

	personas, err := store.ListPersonas(ctx)
	require.NoError(t, err)
	assert.Len(t, personas, 1)
	worlds, err := store.ListWorlds(ctx)
	require.NoError(t, err)
	assert.Len(t, worlds, 1)

	require.NoError(t, store.DeletePersona(ctx, "persona_1"))
	require.NoError(t, store.DeleteWorld(ctx, "world_1"))
	assert.True(t, model.IsNotFound(store.DeleteWorld(ctx, "world_1")))
}

// TestPersonaFacts tests fact filtering and deletion.
func (s *StorageTestSuite) TestPersonaFacts(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	facts := []*model.PersonaFact{
		{ID: "fact_1", PersonaID: "persona_1", Dimension: model.DimensionCharacteristic, Content: "wise", IsStatic: true, CreatedAt: now},
		{ID: "fact_2", PersonaID: "persona_1", NPCID: "npc_a", Dimension: model.DimensionExperience, Content: "met a balrog", CreatedAt: now.Add(time.Second)},
		{ID: "fact_3", PersonaID: "persona_2", Dimension: model.DimensionGoalPlan, Content: "rule", CreatedAt: now},
	}
	for _, f := range facts {
		require.NoError(t, store.SavePersonaFact(ctx, f))
	}

	p1, err := store.ListPersonaFacts(ctx, FactFilter{PersonaID: "persona_1"})
	require.NoError(t, err)
	require.Len(t, p1, 2)
	assert.Equal(t, "fact_1", p1[0].ID)

	all, err := store.ListPersonaFacts(ctx, FactFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := store.DeletePersonaFacts(ctx, FactFilter{NPCID: "npc_a"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err = store.ListPersonaFacts(ctx, FactFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// TestMemoryTiers verifies that tier deletion never crosses tiers.
func (s *StorageTestSuite) TestMemoryTiers(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveMemory(ctx, newMemory("npc_a", fmt.Sprintf("mem_s%d", i), model.ShortTerm, now)))
		require.NoError(t, store.SaveMemory(ctx, newMemory("npc_a", fmt.Sprintf("mem_l%d", i), model.LongTerm, now)))
	}
	require.NoError(t, store.SaveMemory(ctx, newMemory("npc_b", "mem_other", model.ShortTerm, now)))

	n, err := store.DeleteMemories(ctx, "npc_a", model.ShortTerm)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := store.ListMemories(ctx, "npc_a", model.MemoryFilter{})
	require.NoError(t, err)
	require.Len(t, left, 3)
	for _, m := range left {
		assert.Equal(t, model.LongTerm, m.MemoryType)
	}

	other, err := store.ListMemories(ctx, "npc_b", model.MemoryFilter{})
	require.NoError(t, err)
	assert.Len(t, other, 1)

	n, err = store.DeleteMemories(ctx, "npc_a", "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// TestMemoryListing verifies ordering, filtering and single deletes.
func (s *StorageTestSuite) TestMemoryListing(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		tier := model.ShortTerm
		if i%2 == 0 {
			tier = model.LongTerm
		}
		require.NoError(t, store.SaveMemory(ctx, newMemory("npc_a", fmt.Sprintf("mem_%d", i), tier, base.Add(time.Duration(i)*time.Second))))
	}

	recent, err := store.ListMemories(ctx, "npc_a", model.MemoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "mem_4", recent[0].ID)
	assert.Equal(t, "mem_3", recent[1].ID)

	long, err := store.ListMemories(ctx, "npc_a", model.MemoryFilter{MemoryType: model.LongTerm})
	require.NoError(t, err)
	assert.Len(t, long, 3)

	everyone, err := store.ListMemories(ctx, "", model.MemoryFilter{})
	require.NoError(t, err)
	assert.Len(t, everyone, 5)

	got, err := store.GetMemory(ctx, "npc_a", "mem_2")
	require.NoError(t, err)
	assert.Equal(t, "memory mem_2", got.Content)

	require.NoError(t, store.DeleteMemory(ctx, "npc_a", "mem_2"))
	assert.True(t, model.IsNotFound(store.DeleteMemory(ctx, "npc_a", "mem_2")))
}

// TestCommitTurn verifies that every artifact of a turn is written.
func (s *StorageTestSuite) TestCommitTurn(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	npc := seedNPC(t, store, "npc_a", "world_1")
	npc.CurrentState["emotion"] = "happy"
	now := time.Now()

	commit := &TurnCommit{
		NPC: npc,
		Memories: []*model.Memory{
			newMemory("npc_a", "mem_turn", model.ShortTerm, now),
			newMemory("npc_a", "mem_refl", model.LongTerm, now),
		},
		Facts: []*model.PersonaFact{
			{ID: "fact_new", PersonaID: "persona_1", NPCID: "npc_a", Dimension: model.DimensionExperience, Content: "learned", Source: model.FactSourceReflection, CreatedAt: now},
		},
		Trace: &model.Trace{
			ID:           "trace_1",
			NPCID:        "npc_a",
			TurnID:       "turn_1",
			Observation:  &model.Observation{Action: "Hello"},
			ChosenAction: "talk",
			ToolExecutionResult: &model.ActionResult{
				Success:    true,
				ActionType: "talk",
			},
			CreatedAt: now,
		},
	}
	require.NoError(t, store.CommitTurn(ctx, commit))

	got, err := store.GetNPC(ctx, "npc_a")
	require.NoError(t, err)
	assert.Equal(t, "happy", got.StateString("emotion"))

	mems, err := store.ListMemories(ctx, "npc_a", model.MemoryFilter{})
	require.NoError(t, err)
	assert.Len(t, mems, 2)

	facts, err := store.ListPersonaFacts(ctx, FactFilter{NPCID: "npc_a"})
	require.NoError(t, err)
	assert.Len(t, facts, 1)

	tr, err := store.GetTrace(ctx, "trace_1")
	require.NoError(t, err)
	assert.Equal(t, "talk", tr.ChosenAction)
	assert.Equal(t, "Hello", tr.Observation.Action)
	assert.True(t, tr.ToolExecutionResult.Success)
}

// TestCommitTurnUnknownNPC verifies that a failed commit writes nothing.
func (s *StorageTestSuite) TestCommitTurnUnknownNPC(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	err := store.CommitTurn(ctx, &TurnCommit{
		Memories: []*model.Memory{newMemory("ghost", "mem_1", model.ShortTerm, time.Now())},
		Trace:    &model.Trace{ID: "trace_1", NPCID: "ghost", CreatedAt: time.Now()},
	})
	assert.True(t, model.IsNotFound(err))

	mems, err := store.ListMemories(ctx, "ghost", model.MemoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, mems)
	_, err = store.GetTrace(ctx, "trace_1")
	assert.True(t, model.IsNotFound(err))

	assert.Error(t, store.CommitTurn(ctx, &TurnCommit{}))
}

// TestTracePagination tests trace listing and deletion.
func (s *StorageTestSuite) TestTracePagination(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	seedNPC(t, store, "npc_a", "world_1")
	seedNPC(t, store, "npc_b", "world_1")
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CommitTurn(ctx, &TurnCommit{
			Trace: &model.Trace{ID: fmt.Sprintf("trace_%d", i), NPCID: "npc_a", CreatedAt: base.Add(time.Duration(i) * time.Second)},
		}))
	}
	require.NoError(t, store.CommitTurn(ctx, &TurnCommit{
		Trace: &model.Trace{ID: "trace_b", NPCID: "npc_b", CreatedAt: base},
	}))

	page, total, err := store.ListTraces(ctx, "npc_a", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "trace_3", page[0].ID)
	assert.Equal(t, "trace_2", page[1].ID)

	require.NoError(t, store.DeleteTrace(ctx, "trace_4"))
	assert.True(t, model.IsNotFound(store.DeleteTrace(ctx, "trace_4")))

	n, err := store.DeleteTraces(ctx, "npc_a")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, total, err = store.ListTraces(ctx, "npc_b", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// TestTools tests dynamic tool persistence.
func (s *StorageTestSuite) TestTools(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	tool := &model.ToolDefinition{
		ID:               "tool_1",
		Name:             "juggle",
		ParametersSchema: map[string]interface{}{"type": "object"},
		Code:             "package main",
	}
	require.NoError(t, store.SaveTool(ctx, tool))

	got, err := store.GetTool(ctx, "tool_1")
	require.NoError(t, err)
	assert.Equal(t, "juggle", got.Name)
	assert.Equal(t, "object", got.ParametersSchema["type"])

	all, err := store.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteTool(ctx, "tool_1"))
	_, err = store.GetTool(ctx, "tool_1")
	assert.True(t, model.IsNotFound(err))
}

// TestConcurrentAccess tests concurrent memory writes.
func (s *StorageTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mem := newMemory("npc_a", fmt.Sprintf("mem_%d", i), model.ShortTerm, time.Now())
			assert.NoError(t, store.SaveMemory(ctx, mem))
		}(i)
	}
	wg.Wait()

	mems, err := store.ListMemories(ctx, "npc_a", model.MemoryFilter{})
	require.NoError(t, err)
	assert.Len(t, mems, 10)
}

// TestNotFound tests the error returned for missing entities.
func (s *StorageTestSuite) TestNotFound(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()
	ctx := context.Background()

	_, err := store.GetNPC(ctx, "missing")
	assert.True(t, model.IsNotFound(err))
	_, err = store.GetPersona(ctx, "missing")
	assert.True(t, model.IsNotFound(err))
	_, err = store.GetWorld(ctx, "missing")
	assert.True(t, model.IsNotFound(err))
	_, err = store.GetMemory(ctx, "npc", "missing")
	assert.True(t, model.IsNotFound(err))
	_, err = store.GetTrace(ctx, "missing")
	assert.True(t, model.IsNotFound(err))
	assert.True(t, model.IsNotFound(store.DeleteNPC(ctx, "missing")))
}

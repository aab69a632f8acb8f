package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/engine"
	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/memory"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/npc"
	"github.com/npcforge/npcforge/pkg/storage"
	memstore "github.com/npcforge/npcforge/pkg/storage/memory"
	"github.com/npcforge/npcforge/pkg/tools"
	"github.com/npcforge/npcforge/pkg/trace"
	"github.com/npcforge/npcforge/pkg/vector"
)

type apiFixture struct {
	store    storage.Storage
	index    *vector.Index
	registry *tools.Registry
	engine   *engine.Engine
	router   chi.Router
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := memstore.NewMemoryStorage()
	backend, err := vector.NewFlatBackend("")
	require.NoError(t, err)
	index, err := vector.NewIndex(backend, vector.NewHashEmbedder(64))
	require.NoError(t, err)
	registry := tools.NewRegistry(store)
	reasoner := llm.NewOffline()

	eng, err := engine.New(engine.DefaultConfig(), store, index, registry, reasoner)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	svc := npc.NewService(store, index, npc.WithReasoner(reasoner))
	npcs := NewNPCHandler(svc, nil)
	personas := NewPersonaHandler(svc, nil)
	worlds := NewWorldHandler(svc, nil)
	memories := NewMemoryHandler(memory.NewStore(store, index), nil)
	turns := NewTurnHandler(eng, nil)
	vectors := NewVectorHandler(index, vector.NewStoreSource(store), svc, nil)
	toolsH := NewToolHandler(registry, nil)
	traces := NewTraceHandler(trace.NewRecorder(store, nil), svc, nil)
	health := NewHealthHandler(eng, index, registry)

	r := chi.NewRouter()
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Get("/status", health.Status)

	r.Post("/npc/create", npcs.CreateNPC)
	r.Post("/npc/generate", npcs.GenerateNPC)
	r.Get("/npc", npcs.ListNPCs)
	r.Route("/npc/{id}", func(r chi.Router) {
		r.Get("/", npcs.GetNPC)
		r.Put("/", npcs.UpdateNPC)
		r.Delete("/", npcs.DeleteNPC)
		r.Put("/config", npcs.UpdateNPCConfig)
		r.Post("/memory", memories.CreateMemory)
		r.Get("/memory", memories.ListMemories)
		r.Delete("/memory", memories.DeleteMemories)
		r.Get("/memory/recent", memories.RecentMemories)
		r.Get("/memory/{memId}", memories.GetMemory)
		r.Delete("/memory/{memId}", memories.DeleteMemory)
		r.Post("/turn", turns.RunTurn)
		r.Post("/act", turns.RunTurn)
		r.Post("/force_action", turns.ForceAction)
		r.Get("/vector_memories", vectors.VectorMemories)
		r.Get("/traces", traces.ListTraces)
		r.Delete("/traces", traces.DeleteTraces)
	})
	r.Post("/vector/reindex", vectors.Reindex)
	r.Get("/vector/stats", vectors.Stats)
	r.Get("/tools", toolsH.Definitions)
	r.Post("/tool/create", toolsH.CreateTool)
	r.Get("/tool", toolsH.ListTools)
	r.Get("/tool/{id}", toolsH.GetTool)
	r.Put("/tool/{id}", toolsH.UpdateTool)
	r.Delete("/tool/{id}", toolsH.DeleteTool)
	r.Post("/persona/create", personas.CreatePersona)
	r.Get("/persona", personas.ListPersonas)
	r.Get("/persona/{id}", personas.GetPersona)
	r.Put("/persona/{id}", personas.UpdatePersona)
	r.Delete("/persona/{id}", personas.DeletePersona)
	r.Get("/persona/{id}/facts", personas.ListFacts)
	r.Post("/persona/{id}/facts", personas.AddFact)
	r.Post("/world/create", worlds.CreateWorld)
	r.Get("/world", worlds.ListWorlds)
	r.Get("/world/{id}", worlds.GetWorld)
	r.Put("/world/{id}", worlds.UpdateWorld)
	r.Delete("/world/{id}", worlds.DeleteWorld)
	r.Get("/world/{id}/npcs", worlds.WorldNPCs)
	r.Get("/trace/{id}", traces.GetTrace)
	r.Delete("/trace/{id}", traces.DeleteTrace)

	return &apiFixture{store: store, index: index, registry: registry, engine: eng, router: r}
}

func (f *apiFixture) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.ErrorResponse
	decodeBody(t, rec, &env)
	return env.Error.Code
}

// seed creates a persona, a world and one NPC through the API and returns
// the NPC.
func (f *apiFixture) seed(t *testing.T) *model.NPC {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/persona/create", model.PersonaInput{
		PersonaID:   "persona_gandalf",
		Name:        "Gandalf",
		Traits:      []string{"wise"},
		Goals:       []string{"guide the hobbits"},
		Background:  "A wandering wizard.",
		SpeechStyle: "archaic",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/world/create", model.WorldInput{
		WorldID: "middle_earth",
		Title:   "Middle-earth",
		Rules:   model.WorldRules{Laws: []string{"Magic is rare"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/npc/create", model.NPCInput{
		Name:         "Gandalf the Grey",
		Role:         "wizard",
		PersonaID:    "persona_gandalf",
		WorldID:      "middle_earth",
		CurrentState: map[string]interface{}{"location": "shire", "emotion": "neutral"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var n model.NPC
	decodeBody(t, rec, &n)
	require.NotEmpty(t, n.ID)
	return &n
}

func TestHealthHandler(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	decodeBody(t, rec, &status)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "running", status.Engine)
	assert.Equal(t, 9, status.Tools)
	assert.Len(t, status.Vectors, 3)

	require.NoError(t, f.engine.Stop(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/health", nil).Code)
}

func TestNPCHandler_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)
	n := f.seed(t)

	rec := f.do(t, http.MethodGet, "/npc/"+n.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/npc?world_id=middle_earth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list NPCListResponse
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = f.do(t, http.MethodGet, "/npc?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/npc/"+n.ID+"/config", model.NPCConfig{
		RetrievalTopK: 7, ImportanceThreshold: 0.5, ReflectionThreshold: 0.9, MaxFactsPerDimension: 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated model.NPC
	decodeBody(t, rec, &updated)
	assert.Equal(t, 7, updated.Config.RetrievalTopK)

	rec = f.do(t, http.MethodPut, "/npc/"+n.ID+"/config", model.NPCConfig{
		RetrievalTopK: 0, ImportanceThreshold: 2, ReflectionThreshold: 0.9, MaxFactsPerDimension: 2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrCodeValidationFailed, errorCode(t, rec))

	rec = f.do(t, http.MethodDelete, "/npc/"+n.ID+"?cascade=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var del npc.DeleteResult
	decodeBody(t, rec, &del)
	assert.True(t, del.CascadeRequested)

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.ErrCodeNotFound, errorCode(t, rec))
}

func TestNPCHandler_CreateRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/npc/create", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/npc/create", model.NPCInput{Name: "Ghost", PersonaID: "nope", WorldID: "nowhere"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNPCHandler_Generate(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/npc/generate", npc.GenerateInput{Description: "A grumpy blacksmith in a mountain village"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res npc.GenerateResult
	decodeBody(t, rec, &res)
	require.NotNil(t, res.NPC)
	require.NotNil(t, res.Persona)
	assert.True(t, res.WorldCreated)
	assert.Equal(t, res.Persona.ID, res.NPC.PersonaID)

	rec = f.do(t, http.MethodPost, "/npc/generate", npc.GenerateInput{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTurnHandler_RunTurn(t *testing.T) {
	f := newAPIFixture(t)
	n := f.seed(t)

	rec := f.do(t, http.MethodPost, "/npc/"+n.ID+"/turn?turn_id=turn-42", model.Observation{Actor: "player", Action: "Hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result model.TurnResult
	decodeBody(t, rec, &result)
	assert.Equal(t, "talk", result.Action.ActionType)
	assert.True(t, result.Result.Success)
	assert.Equal(t, "turn-42", result.TurnID)
	assert.NotEmpty(t, result.TraceID)

	rec = f.do(t, http.MethodPost, "/npc/"+n.ID+"/act", model.Observation{Actor: "player", Action: "Farewell"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var memories MemoryListResponse
	decodeBody(t, rec, &memories)
	assert.Equal(t, 2, memories.Count)

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/traces?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var traces TraceListResponse
	decodeBody(t, rec, &traces)
	assert.Equal(t, 2, traces.Total)
	assert.Equal(t, 1, traces.Count)

	rec = f.do(t, http.MethodGet, "/trace/"+result.TraceID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr model.Trace
	decodeBody(t, rec, &tr)
	assert.Equal(t, "turn-42", tr.TurnID)
}

func TestTurnHandler_Errors(t *testing.T) {
	f := newAPIFixture(t)
	n := f.seed(t)

	rec := f.do(t, http.MethodPost, "/npc/"+n.ID+"/turn", model.Observation{Actor: "player"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/npc/missing/turn", model.Observation{Action: "Hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/npc/"+n.ID+"/force_action", engine.ForceActionRequest{ActionType: "cast_unknown_spell"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, response.ErrCodeUnknownTool, errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/memory", nil)
	var memories MemoryListResponse
	decodeBody(t, rec, &memories)
	assert.Zero(t, memories.Count)

	require.NoError(t, f.engine.Stop(context.Background()))
	rec = f.do(t, http.MethodPost, "/npc/"+n.ID+"/turn", model.Observation{Action: "Hello"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTurnHandler_ForceAction(t *testing.T) {
	f := newAPIFixture(t)
	n := f.seed(t)

	rec := f.do(t, http.MethodPost, "/npc/"+n.ID+"/force_action?turn_id=manual-1", engine.ForceActionRequest{
		ActionType: "move_to",
		Arguments:  map[string]interface{}{"location_id": "bree"},
		Reason:     "testing",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result model.TurnResult
	decodeBody(t, rec, &result)
	assert.True(t, result.Result.Success)
	assert.Equal(t, "manual-1", result.TurnID)

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/memory", nil)
	var memories MemoryListResponse
	decodeBody(t, rec, &memories)
	assert.Zero(t, memories.Count)
}

func TestMemoryHandler(t *testing.T) {
	f := newAPIFixture(t)
	n := f.seed(t)
	base := "/npc/" + n.ID + "/memory"

	high, low := 0.9, 0.2
	rec := f.do(t, http.MethodPost, base, model.MemoryInput{Content: "Saw a dragon over the hills", Importance: &high})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var longTerm model.Memory
	decodeBody(t, rec, &longTerm)
	assert.Equal(t, model.LongTerm, longTerm.MemoryType)

	rec = f.do(t, http.MethodPost, base, model.MemoryInput{Content: "Had second breakfast", Importance: &low})
	require.Equal(t, http.StatusCreated, rec.Code)
	var shortTerm model.Memory
	decodeBody(t, rec, &shortTerm)
	assert.Equal(t, model.ShortTerm, shortTerm.MemoryType)

	rec = f.do(t, http.MethodGet, base+"?memory_type=long_term", nil)
	var list MemoryListResponse
	decodeBody(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, longTerm.ID, list.Memories[0].ID)

	rec = f.do(t, http.MethodGet, base+"/recent", nil)
	decodeBody(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, shortTerm.ID, list.Memories[0].ID)

	rec = f.do(t, http.MethodGet, base+"?memory_type=forever", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, base+"?limit=501", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, base+"/"+longTerm.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Deleting short-term memories leaves long-term ones alone.
	rec = f.do(t, http.MethodDelete, base+"?memory_type=short_term", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var del MemoryDeleteResponse
	decodeBody(t, rec, &del)
	assert.Equal(t, 1, del.Deleted)

	rec = f.do(t, http.MethodDelete, base+"/"+longTerm.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, base+"/"+longTerm.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/npc/missing/memory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVectorHandler(t *testing.T) {
	f := newAPIFixture(t)
	n := f.seed(t)

	high := 0.95
	rec := f.do(t, http.MethodPost, "/npc/"+n.ID+"/memory", model.MemoryInput{Content: "The ring must be destroyed", Importance: &high})
	require.Equal(t, http.StatusCreated, rec.Code)
	var m model.Memory
	decodeBody(t, rec, &m)

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/vector_memories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var browse VectorMemoriesResponse
	decodeBody(t, rec, &browse)
	require.Equal(t, 1, browse.Count)
	assert.Equal(t, m.ID, browse.Hits[0].SourceID)

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/vector_memories?query=ring&top_k=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var search VectorMemoriesResponse
	decodeBody(t, rec, &search)
	assert.Equal(t, "ring", search.Query)
	assert.Equal(t, 1, search.Count)

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/vector_memories?top_k=51", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Deleted memories stay indexed until the collection is rebuilt.
	rec = f.do(t, http.MethodDelete, "/npc/"+n.ID+"/memory/"+m.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/vector_memories", nil)
	decodeBody(t, rec, &browse)
	assert.Equal(t, 1, browse.Count)

	rec = f.do(t, http.MethodPost, "/vector/reindex?index_type=episodic", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res vector.ReindexResult
	decodeBody(t, rec, &res)
	assert.Equal(t, vector.Episodic, res.IndexType)
	assert.Zero(t, res.VectorsIndexed)

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/vector_memories", nil)
	decodeBody(t, rec, &browse)
	assert.Zero(t, browse.Count)

	rec = f.do(t, http.MethodPost, "/vector/reindex?index_type=semantic", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/vector/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]vector.CollectionStats
	decodeBody(t, rec, &stats)
	assert.Contains(t, stats, "episodic")
	assert.Contains(t, stats, "persona")
	assert.Positive(t, stats["persona"].VectorCount)
}

const shoutCode = `
import "strings"

func Execute(args map[string]interface{}, ctx map[string]interface{}) (map[string]interface{}, error) {
	text, _ := args["text"].(string)
	return map[string]interface{}{"shout": strings.ToUpper(text)}, nil
}
`

func shoutSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"text"},
	}
}

func TestToolHandler(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/tool/create", model.ToolInput{Name: "shout", ParametersSchema: shoutSchema(), Code: shoutCode})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var def model.ToolDefinition
	decodeBody(t, rec, &def)

	rec = f.do(t, http.MethodPost, "/tool/create", model.ToolInput{Name: "talk", ParametersSchema: shoutSchema(), Code: shoutCode})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/tool/create", model.ToolInput{Name: "broken", ParametersSchema: shoutSchema(), Code: "func Execute( {"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var defs ToolDefinitionsResponse
	decodeBody(t, rec, &defs)
	assert.Equal(t, 10, defs.Count)
	assert.Contains(t, defs.ToolNames, "shout")
	assert.Contains(t, defs.ToolNames, "wait")

	rec = f.do(t, http.MethodGet, "/tool", nil)
	var list ToolListResponse
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = f.do(t, http.MethodGet, "/tool/"+def.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/tool/"+def.ID, model.ToolInput{Name: "yell", ParametersSchema: shoutSchema(), Code: shoutCode})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, f.registry.Has("yell"))
	assert.False(t, f.registry.Has("shout"))

	rec = f.do(t, http.MethodDelete, "/tool/"+def.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/tool/"+def.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPersonaAndWorldHandlers(t *testing.T) {
	f := newAPIFixture(t)
	n := f.seed(t)

	rec := f.do(t, http.MethodPost, "/persona/persona_gandalf/facts", model.PersonaFactInput{Dimension: "experience", Content: "Fought a Balrog"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/persona/persona_gandalf/facts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var facts FactListResponse
	decodeBody(t, rec, &facts)
	assert.Equal(t, 1, facts.Count)

	rec = f.do(t, http.MethodGet, "/persona", nil)
	var personas PersonaListResponse
	decodeBody(t, rec, &personas)
	assert.Equal(t, 1, personas.Count)

	rec = f.do(t, http.MethodPut, "/persona/persona_gandalf", model.PersonaInput{Name: "Gandalf the White"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Still referenced by the NPC.
	rec = f.do(t, http.MethodDelete, "/persona/persona_gandalf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/world/middle_earth/npcs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var residents NPCListResponse
	decodeBody(t, rec, &residents)
	require.Equal(t, 1, residents.Count)
	assert.Equal(t, n.ID, residents.NPCs[0].ID)

	rec = f.do(t, http.MethodDelete, "/world/middle_earth", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/world/middle_earth?cascade=yes-please", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/world/middle_earth?cascade=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var del npc.DeleteResult
	decodeBody(t, rec, &del)
	assert.Equal(t, 1, del.NPCsDeleted)

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/persona/persona_gandalf", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTraceHandler_Delete(t *testing.T) {
	f := newAPIFixture(t)
	n := f.seed(t)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/npc/"+n.ID+"/turn", model.Observation{Actor: "player", Action: "Hello"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/npc/"+n.ID+"/traces", nil)
	var page TraceListResponse
	decodeBody(t, rec, &page)
	require.Equal(t, 3, page.Total)

	rec = f.do(t, http.MethodDelete, "/trace/"+page.Traces[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/npc/"+n.ID+"/traces", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var del TraceDeleteResponse
	decodeBody(t, rec, &del)
	assert.Equal(t, 2, del.Deleted)

	rec = f.do(t, http.MethodGet, "/npc/"+n.ID+"/traces?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/npc/missing/traces", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

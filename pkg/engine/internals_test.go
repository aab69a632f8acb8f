package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcforge/npcforge/pkg/metrics"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/vector"
)

func TestParseImportance(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		score         float64
		justification string
	}{
		{"plain", `{"importance_score": 0.42, "justification": "a rumor"}`, 0.42, "a rumor"},
		{"fenced", "```json\n{\"importance_score\": 0.8, \"justification\": \"oath\"}\n```", 0.8, "oath"},
		{"clamped high", `{"importance_score": 3, "justification": "x"}`, 1, "x"},
		{"clamped low", `{"importance_score": -1, "justification": "x"}`, 0, "x"},
		{"missing score", `{"justification": "x"}`, fallbackImportance, "x"},
		{"missing justification", `{"importance_score": 0.2}`, 0.2, "no justification provided"},
		{"prose", "It matters a lot.", fallbackImportance, fallbackJustification},
		{"empty", "", fallbackImportance, fallbackJustification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, justification := parseImportance(tt.text)
			assert.InDelta(t, tt.score, score, 1e-9)
			assert.Equal(t, tt.justification, justification)
		})
	}
}

func TestTriggerFor(t *testing.T) {
	npc := &model.NPC{CurrentState: map[string]interface{}{model.StateEmotion: "neutral"}}
	tests := []struct {
		name     string
		obs      *model.Observation
		npc      *model.NPC
		predict  float64
		expected bool
	}{
		{"routine", &model.Observation{Action: "waves"}, npc, 0.3, false},
		{"important", &model.Observation{Action: "draws a sword"}, npc, 0.7, true},
		{"quest event", &model.Observation{Action: "returns", EventType: "quest_completed"}, npc, 0.1, true},
		{"quest detail", &model.Observation{Action: "reports", Details: map[string]interface{}{"note": "Quest done"}}, npc, 0.1, true},
		{"relationship key", &model.Observation{Action: "bows", Details: map[string]interface{}{"relationship": "ally"}}, npc, 0.1, true},
		{"emotion jump", &model.Observation{Action: "shouts", Details: map[string]interface{}{"emotion": "angry"}}, npc, 0.1, true},
		{"small emotion shift", &model.Observation{Action: "smiles", Details: map[string]interface{}{"emotion": "surprised"}}, npc, 0.1, false},
		{"no prior emotion", &model.Observation{Action: "grins", Details: map[string]interface{}{"emotion": "excited"}}, &model.NPC{}, 0.1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, triggerFor(tt.npc, tt.obs, tt.predict).fires(0.7))
		})
	}
}

func TestLearnFacts(t *testing.T) {
	npc := &model.NPC{ID: "npc_bard01", PersonaID: "persona_bard", Config: model.NPCConfig{MaxFactsPerDimension: 2}}
	known := []*model.PersonaFact{{Content: "Sings at dawn", IsStatic: true}}
	updates := []factUpdate{
		{Dimension: "routine_habit", Content: "sings at dawn", Importance: 0.9},
		{Dimension: "experience", Content: "Lost a lute in Bree", Importance: 0.9},
		{Dimension: "experience", Content: "lost a lute in bree ", Importance: 0.95},
		{Dimension: "experience", Content: "Played for the king", Importance: 0.85},
		{Dimension: "experience", Content: "Was robbed on the road", Importance: 0.99},
		{Dimension: "goals", Content: "Write a ballad", Importance: 0.8},
		{Dimension: "relationship", Content: "Owes the innkeeper", Importance: 0.79},
		{Dimension: "mood", Content: "Feels gloomy", Importance: 1},
		{Dimension: "experience", Content: "   ", Importance: 1},
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	facts := learnFacts(npc, known, updates, now)

	var contents []string
	for _, f := range facts {
		contents = append(contents, f.Content)
		assert.Equal(t, "npc_bard01", f.NPCID)
		assert.Equal(t, "persona_bard", f.PersonaID)
		assert.Equal(t, model.FactSourceReflection, f.Source)
		assert.False(t, f.IsStatic)
		assert.Equal(t, now, f.CreatedAt)
		assert.True(t, strings.HasPrefix(f.ID, model.PrefixFact))
	}
	assert.Equal(t, []string{"Lost a lute in Bree", "Played for the king", "Write a ballad"}, contents)
	assert.Equal(t, model.DimensionGoalPlan, facts[2].Dimension)
}

func TestBoostFact(t *testing.T) {
	hit := vector.Hit{Score: 0.5, Metadata: map[string]string{vector.MetaDimension: string(model.DimensionCharacteristic)}}

	assert.InDelta(t, 0.6, boostFact(hit, map[model.Dimension]bool{}), 1e-9)
	assert.InDelta(t, 0.9, boostFact(hit, map[model.Dimension]bool{model.DimensionCharacteristic: true}), 1e-9)
}

func TestInferDimensions(t *testing.T) {
	dims := inferDimensions("player asks if the wizard is brave. current goal: find the ring", &model.Observation{EventType: "dialogue"})
	assert.True(t, dims[model.DimensionCharacteristic])
	assert.True(t, dims[model.DimensionGoalPlan])
	assert.True(t, dims[model.DimensionRelationship])
	assert.False(t, dims[model.DimensionExperience])

	dims = inferDimensions("player waves", &model.Observation{EventType: "combat_talk"})
	assert.True(t, dims[model.DimensionCharacteristic])
	assert.True(t, dims[model.DimensionRelationship])
}

func TestFactLines(t *testing.T) {
	facts := []*model.PersonaFact{
		{Dimension: model.DimensionRelationship, Content: "Friend of Bilbo", IsStatic: true},
		{Dimension: model.DimensionCharacteristic, Content: "Smokes a pipe", IsStatic: false},
		{Dimension: model.DimensionCharacteristic, Content: "Wise", IsStatic: true},
		{Dimension: model.DimensionCharacteristic, Content: "Patient", IsStatic: true},
		{Dimension: model.DimensionCharacteristic, Content: "Stern", IsStatic: true},
	}
	lines := factLines(facts, 2)
	assert.Equal(t, []string{
		model.DimensionCharacteristic.Label() + ":",
		"  - Wise",
		"  - Patient",
		"  - Smokes a pipe (learned)",
		model.DimensionRelationship.Label() + ":",
		"  - Friend of Bilbo",
	}, lines)
}

func TestBuildPrompt(t *testing.T) {
	tc := &turnContext{
		npc: &model.NPC{ID: "npc_1", CurrentState: map[string]interface{}{"mood": "calm", "location": "bree"}},
		persona: &model.Persona{
			Name:        "Barliman",
			Traits:      []string{"forgetful"},
			Constraints: map[string]interface{}{"taboos": []interface{}{"gossip about guests"}},
		},
		world:        &model.World{Title: "Bree-land", Rules: model.WorldRules{SocialNorms: []string{"Pay for your ale"}}},
		conversation: []string{"hobbit orders ale → talk: \"Coming right up\""},
		summary:      "hobbit asks for a room",
	}
	long := strings.Repeat("é", promptMemoryChars+20)
	hits := []vector.Hit{{SourceType: vector.SourceMemory, Text: long}}

	prompt := buildPrompt(tc, hits, &reflection{answer: reflectionAnswer{Insights: "The hobbit is tired."}})

	order := []string{"PERSONA:", "Name: Barliman", "Taboos: gossip about guests", "WORLD", "Social Norms: Pay for your ale",
		"Relevant Memories:", "RECENT CONVERSATION:", "CURRENT STATE:\nlocation: bree, mood: calm",
		"CURRENT OBSERVATION:\nhobbit asks for a room", "REFLECTION: Insights: The hobbit is tired."}
	last := -1
	for _, section := range order {
		idx := strings.Index(prompt, section)
		require.GreaterOrEqual(t, idx, 0, section)
		assert.Greater(t, idx, last, section)
		last = idx
	}
	assert.Contains(t, prompt, "1. [memory] "+strings.Repeat("é", promptMemoryChars)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("é", promptMemoryChars+1))

	assert.Contains(t, buildPrompt(tc, nil, nil), "No relevant memories.")
	assert.NotContains(t, buildPrompt(tc, nil, nil), "REFLECTION:")
}

// stubIndex is searched from the concurrent retrieval goroutines, so the
// recorded filters are guarded.
type stubIndex struct {
	embedErr error
	hits     map[vector.Kind][]vector.Hit

	mu     sync.Mutex
	wheres map[vector.Kind]map[string]string
}

func (s *stubIndex) where(kind vector.Kind) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wheres[kind]
}

func (s *stubIndex) Embed(context.Context, string) ([]float32, error) {
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	return []float32{1, 0}, nil
}

func (s *stubIndex) SearchVector(_ context.Context, kind vector.Kind, _ []float32, _ int, where map[string]string) ([]vector.Hit, error) {
	s.mu.Lock()
	if s.wheres == nil {
		s.wheres = make(map[vector.Kind]map[string]string)
	}
	s.wheres[kind] = where
	s.mu.Unlock()
	return s.hits[kind], nil
}

func (s *stubIndex) Upsert(context.Context, vector.Kind, ...vector.Document) error { return nil }

func TestRetrieve_MergesAndFilters(t *testing.T) {
	idx := &stubIndex{hits: map[vector.Kind][]vector.Hit{
		vector.Episodic: {{VectorID: "mem:1", SourceID: "mem_1", SourceType: vector.SourceMemory, Score: 0.7}},
		vector.Persona: {
			{VectorID: "fact:own", SourceID: "fact_own", SourceType: vector.SourceFact, Score: 0.5,
				Metadata: map[string]string{vector.MetaNPCID: "npc_1", vector.MetaDimension: string(model.DimensionCharacteristic)}},
			{VectorID: "fact:other", SourceID: "fact_other", SourceType: vector.SourceFact, Score: 0.9,
				Metadata: map[string]string{vector.MetaNPCID: "npc_2"}},
			{VectorID: "persona:p:0", SourceID: "persona_1", SourceType: vector.SourcePersona, Score: 0.4},
		},
		vector.World: {{VectorID: "world:w:0", SourceID: "world_1", SourceType: vector.SourceWorld, Score: 0.65}},
	}}
	e := &Engine{index: idx, tracer: engineTracer()}
	tc := &turnContext{
		npc:   &model.NPC{ID: "npc_1", PersonaID: "persona_1", WorldID: "world_1", Config: model.DefaultNPCConfig()},
		obs:   &model.Observation{Action: "asks"},
		query: "is the wizard wise",
	}

	r, err := e.retrieve(context.Background(), tc)
	require.NoError(t, err)

	assert.Equal(t, []string{"episodic", "persona", "world"}, r.indices)
	assert.Equal(t, []string{"fact:own", "mem:1", "world:w:0", "persona:p:0"}, r.vectorIDs())
	assert.Equal(t, []string{"fact_own", "mem_1", "world_1", "persona_1"}, r.sourceIDs())
	assert.InDelta(t, 0.9, r.scores()[0], 1e-9)

	assert.Equal(t, map[string]string{vector.MetaNPCID: "npc_1"}, idx.where(vector.Episodic))
	assert.Equal(t, map[string]string{vector.MetaPersonaID: "persona_1"}, idx.where(vector.Persona))
	assert.Equal(t, map[string]string{vector.MetaWorldID: "world_1"}, idx.where(vector.World))
}

func TestRetrieve_EmbeddingFailureIsUpstream(t *testing.T) {
	e := &Engine{index: &stubIndex{embedErr: errors.New("model offline")}, tracer: engineTracer()}
	tc := &turnContext{npc: &model.NPC{Config: model.DefaultNPCConfig()}, obs: &model.Observation{Action: "x"}}

	_, err := e.retrieve(context.Background(), tc)
	var upstream *model.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "embedding", upstream.Op)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, metrics.OutcomeSuccess, outcomeOf(nil))
	assert.Equal(t, metrics.OutcomeTimeout, outcomeOf(fmt.Errorf("engine: acquire npc lock failed: %w", context.DeadlineExceeded)))
	assert.Equal(t, metrics.OutcomeNotFound, outcomeOf(model.NewNotFound("npc", "x")))
	assert.Equal(t, metrics.OutcomeInvalid, outcomeOf(model.NewValidation("action", "must not be blank")))
	assert.Equal(t, metrics.OutcomeUnknownTool, outcomeOf(&model.UnknownToolError{Name: "x"}))
	assert.Equal(t, metrics.OutcomeUpstream, outcomeOf(&model.UpstreamError{Op: "decision", Cause: errors.New("boom")}))
	assert.Equal(t, metrics.OutcomeError, outcomeOf(errors.New("boom")))
}

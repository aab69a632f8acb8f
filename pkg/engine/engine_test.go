package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcforge/npcforge/pkg/lane"
	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/npc"
	"github.com/npcforge/npcforge/pkg/storage"
	memstore "github.com/npcforge/npcforge/pkg/storage/memory"
	"github.com/npcforge/npcforge/pkg/tools"
	"github.com/npcforge/npcforge/pkg/vector"
)

const (
	wizardID  = "shire_wizard_01"
	personaID = "persona_gandalf"
	worldID   = "middle_earth"
)

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	created  map[string]int
	reflects int
	active   int
}

func (m *recordingMetrics) RecordTurn(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

func (m *recordingMetrics) IncActiveTurns() {
	m.mu.Lock()
	m.active++
	m.mu.Unlock()
}

func (m *recordingMetrics) DecActiveTurns() {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordMemoryCreated(memoryType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created == nil {
		m.created = make(map[string]int)
	}
	m.created[memoryType]++
}

func (m *recordingMetrics) RecordReflection() {
	m.mu.Lock()
	m.reflects++
	m.mu.Unlock()
}

func (m *recordingMetrics) outcome(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[name]
}

type recordingEvents struct {
	mu        sync.Mutex
	completed []*model.TurnResult
	failed    []string
	memories  []*model.Memory
	tools     []*model.ActionResult
}

func (r *recordingEvents) BroadcastTurnCompleted(_ string, result *model.TurnResult) {
	r.mu.Lock()
	r.completed = append(r.completed, result)
	r.mu.Unlock()
}

func (r *recordingEvents) BroadcastTurnFailed(_, _, outcome, _ string) {
	r.mu.Lock()
	r.failed = append(r.failed, outcome)
	r.mu.Unlock()
}

func (r *recordingEvents) BroadcastMemoryCreated(m *model.Memory) {
	r.mu.Lock()
	r.memories = append(r.memories, m)
	r.mu.Unlock()
}

func (r *recordingEvents) BroadcastToolExecuted(_, _ string, result *model.ActionResult) {
	r.mu.Lock()
	r.tools = append(r.tools, result)
	r.mu.Unlock()
}

// script is a reasoning client with canned answers per purpose.
type script struct {
	mu         sync.Mutex
	decide     func(ctx context.Context, req *llm.Request) (*llm.Response, error)
	importance string
	reflection string
	calls      map[llm.Purpose]int
	prompts    map[llm.Purpose]string
}

func (s *script) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[llm.Purpose]int)
		s.prompts = make(map[llm.Purpose]string)
	}
	s.calls[req.Purpose]++
	s.prompts[req.Purpose] = req.Prompt
	s.mu.Unlock()

	switch req.Purpose {
	case llm.PurposeDecision:
		return s.decide(ctx, req)
	case llm.PurposeImportance:
		return &llm.Response{Text: s.importance}, nil
	case llm.PurposeReflection:
		return &llm.Response{Text: s.reflection}, nil
	}
	return nil, errors.New("unexpected purpose")
}

func (s *script) count(p llm.Purpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[p]
}

func (s *script) prompt(p llm.Purpose) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[p]
}

func choose(name string, args map[string]interface{}) func(context.Context, *llm.Request) (*llm.Response, error) {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Text:      "Chose " + name + ".",
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: name, Arguments: args}},
		}, nil
	}
}

func greet() func(context.Context, *llm.Request) (*llm.Response, error) {
	return choose(tools.Talk, map[string]interface{}{"target_id": "player", "utterance": "Greetings, traveler"})
}

type fixture struct {
	engine  *Engine
	store   storage.Storage
	index   *vector.Index
	metrics *recordingMetrics
	events  *recordingEvents
}

func newFixture(t *testing.T, reasoner llm.Client, cfg Config, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store:   memstore.NewMemoryStorage(),
		metrics: &recordingMetrics{},
		events:  &recordingEvents{},
	}
	backend, err := vector.NewFlatBackend("")
	require.NoError(t, err)
	f.index, err = vector.NewIndex(backend, vector.NewHashEmbedder(64))
	require.NoError(t, err)

	seedWizard(t, f.store)

	opts = append([]Option{WithMetrics(f.metrics), WithEventBroadcaster(f.events)}, opts...)
	f.engine, err = New(cfg, f.store, f.index, tools.NewRegistry(f.store), reasoner, opts...)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(func() { _ = f.engine.Stop(context.Background()) })
	return f
}

func seedWizard(t *testing.T, st storage.Storage) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SavePersona(ctx, &model.Persona{
		ID:          personaID,
		Name:        "Gandalf",
		Traits:      []string{"wise", "patient"},
		Goals:       []string{"guide the free peoples"},
		Background:  "A wandering wizard of the Istari.",
		SpeechStyle: "archaic and measured",
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	require.NoError(t, st.SaveWorld(ctx, &model.World{
		ID:    worldID,
		Title: "Middle-earth",
		Rules: model.WorldRules{
			Laws:     []string{"Magic is rare and feared"},
			Factions: map[string]string{"Istari": "wizards sent to aid the free peoples"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}))
	require.NoError(t, st.SaveNPC(ctx, &model.NPC{
		ID:        wizardID,
		Name:      "Gandalf the Grey",
		Role:      "wizard",
		PersonaID: personaID,
		WorldID:   worldID,
		CurrentState: map[string]interface{}{
			model.StateEmotion:  "neutral",
			model.StateLocation: "shire",
		},
		Config:    model.NPCConfig{RetrievalTopK: 5, ImportanceThreshold: 0.7, ReflectionThreshold: 0.7, MaxFactsPerDimension: 3},
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func addNPC(t *testing.T, st storage.Storage, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.SaveNPC(context.Background(), &model.NPC{
		ID:           id,
		Name:         id,
		PersonaID:    personaID,
		WorldID:      worldID,
		CurrentState: map[string]interface{}{},
		Config:       model.DefaultNPCConfig(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func memoriesOf(t *testing.T, st storage.Storage, npcID string) []*model.Memory {
	t.Helper()
	mems, err := st.ListMemories(context.Background(), npcID, model.MemoryFilter{Limit: 500})
	require.NoError(t, err)
	return mems
}

func tracesOf(t *testing.T, st storage.Storage, npcID string) int {
	t.Helper()
	_, total, err := st.ListTraces(context.Background(), npcID, 100, 0)
	require.NoError(t, err)
	return total
}

func hello() *model.Observation {
	return &model.Observation{Actor: "player", Action: "Hello"}
}

const routine = `{"importance_score": 0.3, "justification": "small talk"}`

func TestLifecycle(t *testing.T) {
	st := memstore.NewMemoryStorage()
	backend, err := vector.NewFlatBackend("")
	require.NoError(t, err)
	index, err := vector.NewIndex(backend, vector.NewHashEmbedder(32))
	require.NoError(t, err)

	_, err = New(DefaultConfig(), nil, index, tools.NewRegistry(st), llm.NewOffline())
	require.Error(t, err)

	eng, err := New(Config{}, st, index, tools.NewRegistry(st), llm.NewOffline())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, eng.State())
	assert.Equal(t, 10, eng.config.ConversationWindow)
	assert.False(t, eng.IsReady())

	_, err = eng.RunTurn(context.Background(), wizardID, hello(), TurnOptions{})
	assert.True(t, IsNotRunning(err))

	ctx := context.Background()
	require.NoError(t, eng.Start(ctx))
	assert.Error(t, eng.Start(ctx))
	assert.True(t, eng.IsReady())
	assert.Equal(t, "running", eng.State().String())

	require.NoError(t, eng.Stop(ctx))
	assert.Equal(t, StateStopped, eng.State())
	require.NoError(t, eng.Stop(ctx))

	_, err = eng.ForceAction(ctx, wizardID, ForceActionRequest{ActionType: tools.Wait})
	assert.True(t, IsNotRunning(err))
}

func TestStop_WaitsForInflightTurns(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s := &script{
		importance: routine,
		decide: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
			close(entered)
			<-release
			return greet()(ctx, req)
		},
	}
	f := newFixture(t, s, DefaultConfig())

	errc := make(chan error, 1)
	go func() {
		_, err := f.engine.RunTurn(context.Background(), wizardID, hello(), TurnOptions{})
		errc <- err
	}()
	<-entered

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, f.engine.Stop(short))

	close(release)
	require.NoError(t, <-errc)
	require.NoError(t, f.engine.Stop(context.Background()))
}

func TestSetTurnTimeout(t *testing.T) {
	s := &script{
		importance: routine,
		decide: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newFixture(t, s, Config{TurnTimeout: time.Minute})
	assert.Equal(t, time.Minute, f.engine.TurnTimeout())

	f.engine.SetTurnTimeout(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, f.engine.TurnTimeout())

	_, err := f.engine.RunTurn(context.Background(), wizardID, hello(), TurnOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.engine.SetTurnTimeout(-time.Second)
	assert.Zero(t, f.engine.TurnTimeout())
}

func TestRunTurn_ConfigUpdateDuringTurnSurvivesCommit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s := &script{
		importance: routine,
		decide: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
			close(entered)
			<-release
			return greet()(ctx, req)
		},
	}
	locker := lane.NewLocalLocker()
	f := newFixture(t, s, DefaultConfig(), WithLocker(locker))
	svc := npc.NewService(f.store, f.index, npc.WithLocker(locker))

	turnErr := make(chan error, 1)
	go func() {
		_, err := f.engine.RunTurn(context.Background(), wizardID, hello(), TurnOptions{})
		turnErr <- err
	}()
	<-entered

	updateErr := make(chan error, 1)
	go func() {
		cfg := model.DefaultNPCConfig()
		cfg.RetrievalTopK = 9
		_, err := svc.UpdateNPCConfig(context.Background(), wizardID, cfg)
		updateErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	close(release)
	require.NoError(t, <-turnErr)
	require.NoError(t, <-updateErr)

	n, err := f.store.GetNPC(context.Background(), wizardID)
	require.NoError(t, err)
	assert.Equal(t, 9, n.Config.RetrievalTopK)
	assert.Equal(t, tools.Talk, n.StateString(model.StateLastAction))
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
	"github.com/npcforge/npcforge/pkg/vector"
)

// Persona fact hits outrank raw chunks; facts in a dimension the query
// hints at are raised further.
const (
	factWeight          = 1.2
	dimensionMatchBoost = 0.3
)

type dimensionRule struct {
	dimension model.Dimension
	words     []string
}

var dimensionKeywords = []dimensionRule{
	{model.DimensionCharacteristic, []string{"brave", "coward", "wise", "foolish", "kind", "cruel", "patient", "impatient", "protective", "selfish", "honest", "deceptive"}},
	{model.DimensionRoutineHabit, []string{"always", "usually", "often", "routine", "habit", "regularly", "consistently", "typically", "normally"}},
	{model.DimensionGoalPlan, []string{"goal", "want", "plan", "intend", "aim", "purpose", "objective", "strive", "seek", "desire", "wish"}},
	{model.DimensionExperience, []string{"remember", "recall", "learned", "experienced", "happened", "before", "past", "memory"}},
	{model.DimensionRelationship, []string{"friend", "enemy", "ally", "mentor", "student", "relationship", "trust", "betray", "help", "support", "oppose"}},
}

var eventDimensions = []dimensionRule{
	{model.DimensionCharacteristic, []string{"combat", "fight", "attack"}},
	{model.DimensionRelationship, []string{"talk", "dialogue", "conversation"}},
	{model.DimensionGoalPlan, []string{"quest"}},
}

// turnContext is everything a turn reads before deciding.
type turnContext struct {
	npc          *model.NPC
	persona      *model.Persona
	world        *model.World
	facts        []*model.PersonaFact
	conversation []string
	obs          *model.Observation
	summary      string
	query        string
}

// retrieval is the merged result of the three collection searches.
type retrieval struct {
	hits    []vector.Hit
	indices []string
}

func (e *Engine) assemble(ctx context.Context, npcID string, obs *model.Observation) (*turnContext, error) {
	n, err := e.store.GetNPC(ctx, npcID)
	if err != nil {
		return nil, loadErr("npc", err)
	}
	persona, err := e.store.GetPersona(ctx, n.PersonaID)
	if err != nil {
		return nil, loadErr("persona", err)
	}
	world, err := e.store.GetWorld(ctx, n.WorldID)
	if err != nil {
		return nil, loadErr("world", err)
	}
	all, err := e.store.ListPersonaFacts(ctx, storage.FactFilter{PersonaID: n.PersonaID})
	if err != nil {
		return nil, loadErr("persona facts", err)
	}
	facts := make([]*model.PersonaFact, 0, len(all))
	for _, f := range all {
		// learned facts of other NPCs sharing the persona stay private
		if f.NPCID == "" || f.NPCID == n.ID {
			facts = append(facts, f)
		}
	}

	recent, err := e.memories.Recent(ctx, npcID, model.ShortTerm, e.config.ConversationWindow)
	if err != nil {
		return nil, loadErr("recent memories", err)
	}
	var conversation []string
	for _, m := range recent {
		if m.Source == model.SourceObservation {
			conversation = append(conversation, m.Content)
		}
	}

	tc := &turnContext{
		npc:          n,
		persona:      persona,
		world:        world,
		facts:        facts,
		conversation: conversation,
		obs:          obs,
		summary:      obs.Summary(),
	}
	tc.query = tc.summary
	if goal := n.StateString(model.StateGoal); goal != "" {
		tc.query += ". Current goal: " + goal
	}
	return tc, nil
}

func loadErr(what string, err error) error {
	if model.IsNotFound(err) {
		return err
	}
	return fmt.Errorf("engine: load %s failed: %w", what, err)
}

// retrieve searches the episodic, persona and world collections in
// parallel with one query embedding and merges the hits by score.
func (e *Engine) retrieve(ctx context.Context, tc *turnContext) (*retrieval, error) {
	ctx, span := e.tracer.Start(ctx, spanRetrieve)
	defer span.End()

	vec, err := e.index.Embed(ctx, tc.query)
	if err != nil {
		span.RecordError(err)
		return nil, &model.UpstreamError{Op: "embedding", Cause: err}
	}

	n := tc.npc
	searches := []struct {
		kind  vector.Kind
		where map[string]string
	}{
		{vector.Episodic, map[string]string{vector.MetaNPCID: n.ID}},
		{vector.Persona, map[string]string{vector.MetaPersonaID: n.PersonaID}},
		{vector.World, map[string]string{vector.MetaWorldID: n.WorldID}},
	}
	topK := n.Config.RetrievalTopK
	results := make([][]vector.Hit, len(searches))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range searches {
		g.Go(func() error {
			hits, err := e.index.SearchVector(gctx, s.kind, vec, topK, s.where)
			if err != nil {
				return fmt.Errorf("engine: search %s failed: %w", s.kind, err)
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	dims := inferDimensions(tc.query, tc.obs)
	out := &retrieval{indices: make([]string, len(searches))}
	for i, hits := range results {
		out.indices[i] = string(searches[i].kind)
		for _, h := range hits {
			if owner := h.Metadata[vector.MetaNPCID]; searches[i].kind == vector.Persona && owner != "" && owner != n.ID {
				continue
			}
			if h.SourceType == vector.SourceFact {
				h.Score = boostFact(h, dims)
			}
			out.hits = append(out.hits, h)
		}
	}
	sort.SliceStable(out.hits, func(i, j int) bool {
		return out.hits[i].Score > out.hits[j].Score
	})

	span.SetAttributes(
		attribute.Int("retrieval.hits", len(out.hits)),
		attribute.Int("retrieval.top_k", topK),
	)
	return out, nil
}

func boostFact(h vector.Hit, dims map[model.Dimension]bool) float64 {
	score := h.Score * factWeight
	if dims[model.Dimension(h.Metadata[vector.MetaDimension])] {
		score += dimensionMatchBoost
	}
	return score
}

// inferDimensions guesses which persona fact dimensions a query is about.
func inferDimensions(query string, obs *model.Observation) map[model.Dimension]bool {
	dims := make(map[model.Dimension]bool)
	markDimensions(dims, strings.ToLower(query), dimensionKeywords)
	if obs != nil {
		markDimensions(dims, strings.ToLower(obs.EventType), eventDimensions)
	}
	return dims
}

func markDimensions(dims map[model.Dimension]bool, text string, rules []dimensionRule) {
	for _, rule := range rules {
		for _, w := range rule.words {
			if strings.Contains(text, w) {
				dims[rule.dimension] = true
				break
			}
		}
	}
}

// sourceIDs returns the source ids of hits, in order.
func (r *retrieval) sourceIDs() []string {
	ids := make([]string, 0, len(r.hits))
	for _, h := range r.hits {
		if h.SourceID != "" {
			ids = append(ids, h.SourceID)
		}
	}
	return ids
}

func (r *retrieval) vectorIDs() []string {
	ids := make([]string, len(r.hits))
	for i, h := range r.hits {
		ids[i] = h.VectorID
	}
	return ids
}

func (r *retrieval) scores() []float64 {
	scores := make([]float64, len(r.hits))
	for i, h := range r.hits {
		scores[i] = h.Score
	}
	return scores
}

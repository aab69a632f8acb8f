package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/vector"
)

const (
	emotionDeltaThreshold   = 0.3
	factImportanceThreshold = 0.8
	questCompletedEvent     = "quest_completed"
)

// emotionValence places named emotions on one axis. Unknown emotions are 0.
var emotionValence = map[string]float64{
	"calm":      0,
	"neutral":   0,
	"happy":     0.3,
	"excited":   0.5,
	"sad":       -0.3,
	"angry":     -0.5,
	"fearful":   -0.4,
	"surprised": 0.2,
}

const reflectionSystem = `You are the reflective inner voice of a non-player character.
Given a recent observation, relevant memories and the persona, extract what the character learns.

Return ONLY a JSON object:
{
  "insights": "one or two sentences of insight",
  "updated_goals": ["goal", ...],
  "relationship_updates": {"character": "new relationship"},
  "importance_score": 0.0-1.0,
  "persona_fact_updates": [{"dimension": "characteristic|routine_habit|goal_plan|experience|relationship", "content": "fact", "importance": 0.0-1.0}]
}`

type factUpdate struct {
	Dimension  string  `json:"dimension"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

type reflectionAnswer struct {
	Insights            string                 `json:"insights"`
	UpdatedGoals        []string               `json:"updated_goals"`
	RelationshipUpdates map[string]interface{} `json:"relationship_updates"`
	ImportanceScore     *float64               `json:"importance_score"`
	PersonaFactUpdates  []factUpdate           `json:"persona_fact_updates"`
}

var reflectionSchema = llm.SchemaFor[reflectionAnswer]()

// reflection is what a turn learned before deciding. Its memory and facts
// are written only when the turn commits.
type reflection struct {
	answer     reflectionAnswer
	importance float64
	memory     *model.Memory
	facts      []*model.PersonaFact
}

func (r *reflection) summary() string {
	return "Insights: " + r.answer.Insights
}

// trigger records why a turn did or did not reflect.
type trigger struct {
	predicted    float64
	relationship bool
	quest        bool
	emotionDelta float64
}

func (t trigger) fires(threshold float64) bool {
	return t.predicted >= threshold ||
		t.relationship ||
		t.quest ||
		math.Abs(t.emotionDelta) >= emotionDeltaThreshold
}

func (t trigger) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64("reflection.predicted_importance", t.predicted),
		attribute.Bool("reflection.relationship_changed", t.relationship),
		attribute.Bool("reflection.quest_changed", t.quest),
		attribute.Float64("reflection.emotion_delta", t.emotionDelta),
	}
}

// triggerFor inspects the observation against the NPC's current state.
func triggerFor(n *model.NPC, obs *model.Observation, predicted float64) trigger {
	t := trigger{predicted: predicted}

	previous := n.StateString(model.StateEmotion)
	if previous == "" {
		previous = "neutral"
	}
	current := obs.DetailString("emotion")
	if current == "" {
		current = previous
	}
	t.emotionDelta = emotionDelta(previous, current)

	if len(obs.Details) > 0 {
		_, t.relationship = obs.Details["relationship"]
		flat := strings.ToLower(fmt.Sprint(obs.Details))
		t.relationship = t.relationship || strings.Contains(flat, "relation")
		t.quest = strings.Contains(flat, "quest")
	}
	t.quest = t.quest || obs.EventType == questCompletedEvent
	return t
}

func emotionDelta(previous, current string) float64 {
	return emotionValence[strings.ToLower(current)] - emotionValence[strings.ToLower(previous)]
}

// reflect asks the reasoning client what the NPC learns from the
// observation. An unparseable answer degrades to a plain-text insight.
func (e *Engine) reflect(ctx context.Context, tc *turnContext, hits []vector.Hit) (*reflection, error) {
	ctx, span := e.tracer.Start(ctx, spanReflect)
	defer span.End()

	var mems []string
	for i, h := range hits {
		if i == reflectionMemories {
			break
		}
		mems = append(mems, "- "+truncate(h.Text, reflectionMemoryLen))
	}
	memText := "None"
	if len(mems) > 0 {
		memText = strings.Join(mems, "\n")
	}
	prompt := fmt.Sprintf("RECENT OBSERVATION:\n%s\n\nRELEVANT MEMORIES:\n%s\n\nPERSONA CONTEXT:\nTraits: %s\nGoals: %s\n",
		tc.summary, memText, strings.Join(tc.persona.Traits, ", "), strings.Join(tc.persona.Goals, ", "))

	resp, err := e.complete(ctx, &llm.Request{
		Purpose:  llm.PurposeReflection,
		System:   reflectionSystem,
		Prompt:   prompt,
		Schema:   reflectionSchema,
		Metadata: requestMetadata(tc),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	r := &reflection{importance: fallbackImportance}
	if err := llm.DecodeJSON(resp.Text, &r.answer); err != nil {
		e.log.WarnContext(ctx, "reflection answer not parseable", "error", err)
		r.answer = reflectionAnswer{Insights: truncate(strings.TrimSpace(resp.Text), 200)}
		if r.answer.Insights == "" {
			r.answer.Insights = "No insights extracted"
		}
	} else if r.answer.ImportanceScore != nil {
		r.importance = clamp01(*r.answer.ImportanceScore)
	}
	if strings.TrimSpace(r.answer.Insights) == "" {
		r.answer.Insights = "No insights extracted"
	}

	now := e.now()
	r.memory = e.memories.Build(tc.npc, r.answer.Insights, model.SourceReflection, r.importance,
		[]string{"reflection"}, sortedKeys(r.answer.RelationshipUpdates))
	r.facts = learnFacts(tc.npc, tc.facts, r.answer.PersonaFactUpdates, now)

	span.SetAttributes(
		attribute.Float64("reflection.importance", r.importance),
		attribute.Int("reflection.facts", len(r.facts)),
	)
	return r, nil
}

// learnFacts turns high-importance fact updates into dynamic persona facts
// for n. Updates repeating a known fact, case-insensitively, are skipped and
// at most MaxFactsPerDimension facts are learned per dimension.
func learnFacts(n *model.NPC, known []*model.PersonaFact, updates []factUpdate, now time.Time) []*model.PersonaFact {
	seen := make(map[string]bool, len(known))
	for _, f := range known {
		seen[strings.ToLower(strings.TrimSpace(f.Content))] = true
	}
	perDimension := make(map[model.Dimension]int)

	var out []*model.PersonaFact
	for _, u := range updates {
		if u.Importance < factImportanceThreshold {
			continue
		}
		dim, ok := model.ParseDimension(u.Dimension)
		if !ok {
			continue
		}
		content := strings.TrimSpace(u.Content)
		key := strings.ToLower(content)
		if content == "" || seen[key] {
			continue
		}
		if perDimension[dim] >= n.Config.MaxFactsPerDimension {
			continue
		}
		seen[key] = true
		perDimension[dim]++
		out = append(out, &model.PersonaFact{
			ID:         model.NewID(model.PrefixFact),
			PersonaID:  n.PersonaID,
			NPCID:      n.ID,
			Dimension:  dim,
			Content:    content,
			Source:     model.FactSourceReflection,
			IsStatic:   false,
			Importance: clamp01(u.Importance),
			CreatedAt:  now.UTC(),
		})
	}
	return out
}

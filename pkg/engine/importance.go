package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/model"
)

const (
	fallbackImportance    = 0.5
	fallbackJustification = "failed to parse importance score"
)

const importanceSystem = `You rate how memorable an event is for a non-player character.
0.0 is mundane routine, 0.5 is noteworthy, 1.0 is life-changing (betrayal, death, a sworn oath).

Return ONLY a JSON object: {"importance_score": 0.0-1.0, "justification": "one sentence"}`

type importanceAnswer struct {
	Score         *float64 `json:"importance_score"`
	Justification string   `json:"justification"`
}

var importanceSchema = llm.SchemaFor[importanceAnswer]()

// predictImportance scores the observation alone, before any action, to
// decide whether the turn reflects.
func (e *Engine) predictImportance(ctx context.Context, tc *turnContext) (float64, error) {
	prompt := fmt.Sprintf("OBSERVATION:\n%s\n\nACTION RESULT:\n(Not yet available - prediction only)\n", tc.summary)
	resp, err := e.askImportance(ctx, tc, prompt)
	if err != nil {
		return 0, err
	}
	score, _ := parseImportance(resp.Text)
	return score, nil
}

// scoreImportance rates the finished turn: observation, outcome and any
// reflection.
func (e *Engine) scoreImportance(ctx context.Context, tc *turnContext, result *model.ActionResult, refl *reflection) (float64, string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return 0, "", fmt.Errorf("engine: encode action result failed: %w", err)
	}
	prompt := fmt.Sprintf("OBSERVATION:\n%s\n\nACTION RESULT:\n%s\n", tc.summary, data)
	if refl != nil {
		prompt += "\nREFLECTION:\n" + refl.summary() + "\n"
	}

	resp, err := e.askImportance(ctx, tc, prompt)
	if err != nil {
		return 0, "", err
	}
	score, justification := parseImportance(resp.Text)
	return score, justification, nil
}

func (e *Engine) askImportance(ctx context.Context, tc *turnContext, prompt string) (*llm.Response, error) {
	return e.complete(ctx, &llm.Request{
		Purpose:  llm.PurposeImportance,
		System:   importanceSystem,
		Prompt:   prompt,
		Schema:   importanceSchema,
		Metadata: requestMetadata(tc),
	})
}

// parseImportance reads an importance answer. Anything unreadable scores
// fallbackImportance; scores are clamped to [0,1].
func parseImportance(text string) (float64, string) {
	var answer importanceAnswer
	if err := json.Unmarshal([]byte(llm.StripFences(text)), &answer); err != nil {
		return fallbackImportance, fallbackJustification
	}
	score := fallbackImportance
	if answer.Score != nil {
		score = clamp01(*answer.Score)
	}
	justification := strings.TrimSpace(answer.Justification)
	if justification == "" {
		justification = "no justification provided"
	}
	return score, justification
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// complete calls the reasoning client. Failures other than the caller's own
// cancellation are reported as UpstreamError.
func (e *Engine) complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := e.reasoner.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, err
	}
	var upstream *model.UpstreamError
	if errors.As(err, &upstream) {
		return nil, err
	}
	return nil, &model.UpstreamError{Op: string(req.Purpose), Cause: err}
}

// requestMetadata carries structured hints about the turn to the client.
func requestMetadata(tc *turnContext) map[string]string {
	return map[string]string{
		llm.MetaNPCName:   tc.npc.Name,
		llm.MetaActor:     tc.obs.Actor,
		llm.MetaAction:    tc.obs.Action,
		llm.MetaEventType: tc.obs.EventType,
		llm.MetaSummary:   tc.summary,
	}
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Metadata keys understood by the offline backend.
const (
	MetaNPCName     = "npc_name"
	MetaActor       = "actor"
	MetaAction      = "action"
	MetaEventType   = "event_type"
	MetaSummary     = "summary"
	MetaDescription = "description"
)

var (
	hostileWords   = []string{"attack", "hit", "strike", "stab", "shoot", "punch", "ambush"}
	weightyWords   = []string{"attack", "kill", "death", "die", "quest", "betray", "gift", "treasure", "dragon", "war", "steal", "rescue", "love"}
	emotionalWords = []string{"angry", "afraid", "cry", "happy", "sad", "fear", "thank", "insult"}
)

// Offline is a deterministic rule-based backend. It needs no network and
// answers every purpose in the shape the engine expects.
type Offline struct{}

// NewOffline creates the offline backend.
func NewOffline() *Offline { return &Offline{} }

// Complete answers req from its metadata and prompt.
func (o *Offline) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch req.Purpose {
	case PurposeDecision:
		return o.decide(req), nil
	case PurposeImportance:
		return jsonResponse(o.importance(req))
	case PurposeReflection:
		return jsonResponse(o.reflect(req))
	case PurposeGeneration:
		return jsonResponse(o.generate(req))
	}
	return &Response{Text: ""}, nil
}

func jsonResponse(v interface{}) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Response{Text: string(data)}, nil
}

func containsAny(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func hasTool(tools []ToolSpec, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (o *Offline) decide(req *Request) *Response {
	actor := req.Metadata[MetaActor]
	action := req.Metadata[MetaAction]

	if containsAny(action, hostileWords) && hasTool(req.Tools, "defend") {
		return &Response{
			Text: "Under attack, defending.",
			ToolCalls: []ToolCall{{
				ID:        "offline_0",
				Name:      "defend",
				Arguments: map[string]interface{}{"defense_type": "block", "intensity": "medium"},
			}},
		}
	}

	if actor != "" && hasTool(req.Tools, "talk") {
		name := req.Metadata[MetaNPCName]
		if name == "" {
			name = "I"
		}
		utterance := fmt.Sprintf("Greetings, %s. %s hears you.", actor, name)
		tone := "friendly"
		if containsAny(action, emotionalWords) {
			tone = "calm"
		}
		return &Response{
			Text: "Responding to " + actor + ".",
			ToolCalls: []ToolCall{{
				ID:        "offline_0",
				Name:      "talk",
				Arguments: map[string]interface{}{"target_id": actor, "utterance": utterance, "tone": tone},
			}},
		}
	}

	if hasTool(req.Tools, "wait") {
		return &Response{
			Text: "Nothing requires a response.",
			ToolCalls: []ToolCall{{
				ID:        "offline_0",
				Name:      "wait",
				Arguments: map[string]interface{}{"reason": "nothing requires a response"},
			}},
		}
	}
	return &Response{Text: "Nothing requires a response."}
}

func (o *Offline) score(text string) float64 {
	score := 0.3
	if containsAny(text, weightyWords) {
		score += 0.4
	}
	if containsAny(text, emotionalWords) {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// subject is the text the heuristics look at: the event summary when the
// caller provides one, the whole prompt otherwise.
func subject(req *Request) string {
	if s := req.Metadata[MetaSummary]; s != "" {
		return s + " " + req.Metadata[MetaAction]
	}
	return req.Prompt
}

func (o *Offline) importance(req *Request) map[string]interface{} {
	score := o.score(subject(req))
	justification := "routine interaction"
	if score >= 0.7 {
		justification = "significant event for the character"
	}
	return map[string]interface{}{
		"importance_score": score,
		"justification":    justification,
	}
}

func (o *Offline) reflect(req *Request) map[string]interface{} {
	summary := req.Metadata[MetaSummary]
	if summary == "" {
		summary = "a notable event"
	}
	score := o.score(subject(req))
	updates := []map[string]interface{}{}
	if score >= 0.7 {
		updates = append(updates, map[string]interface{}{
			"dimension":  "experience",
			"content":    "Witnessed: " + summary,
			"importance": 0.85,
		})
	}
	relationships := map[string]string{}
	if actor := req.Metadata[MetaActor]; actor != "" {
		relationships[actor] = "recently interacted"
	}
	return map[string]interface{}{
		"insights":             "Reflecting on " + summary + ".",
		"updated_goals":        []string{},
		"relationship_updates": relationships,
		"importance_score":     score,
		"persona_fact_updates": updates,
	}
}

func (o *Offline) generate(req *Request) map[string]interface{} {
	desc := strings.TrimSpace(req.Metadata[MetaDescription])
	if desc == "" {
		desc = strings.TrimSpace(req.Prompt)
	}
	lower := strings.ToLower(desc)
	role := "villager"
	for _, r := range []string{"wizard", "merchant", "guard", "blacksmith", "innkeeper", "knight", "thief", "healer"} {
		if strings.Contains(lower, r) {
			role = r
			break
		}
	}
	name := capitalize(role)
	if i := strings.Index(lower, "named "); i >= 0 {
		if fields := strings.Fields(desc[i+len("named "):]); len(fields) > 0 {
			name = capitalize(strings.Trim(fields[0], ".,!?;:"))
		}
	}
	return map[string]interface{}{
		"persona": map[string]interface{}{
			"name":         name,
			"traits":       []string{"curious"},
			"habits":       []string{},
			"goals":        []string{"serve as a " + role},
			"background":   desc,
			"speech_style": "plain",
		},
		"world": map[string]interface{}{
			"title":       "Generated world",
			"description": "World generated for " + name,
		},
		"npc": map[string]interface{}{
			"name":          name,
			"role":          role,
			"current_state": map[string]interface{}{"emotion": "neutral"},
		},
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

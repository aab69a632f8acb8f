package engine

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/vector"
)

// Prompt sizing.
const (
	promptMemories      = 5
	promptMemoryChars   = 150
	promptConversation  = 5
	reflectionMemories  = 5
	reflectionMemoryLen = 100
)

const decisionSystem = `You are the mind of a non-player character in a role-playing game.
Stay in character at all times: act according to the persona, respect the world's laws and social norms, and never reveal that you are an AI.
You act only through the tools you are given.`

const planningInstructions = `Decide what the NPC does next in response to the current observation.

Guidelines:
- Choose exactly one tool call.
- Use the persona's traits, goals and speech style; learned facts reflect what the NPC has come to know.
- Prefer actions consistent with relevant memories and the recent conversation.
- When speaking, write the utterance in the NPC's own voice.
- If nothing requires a response, call "wait".
- Briefly state the reason for the action in one or two sentences.`

// buildPrompt renders the decision prompt from the turn context.
func buildPrompt(tc *turnContext, hits []vector.Hit, refl *reflection) string {
	var b strings.Builder
	b.WriteString(planningInstructions)
	b.WriteString("\n\nPERSONA:\n")
	b.WriteString(personaContext(tc.persona, tc.facts, tc.npc.Config.MaxFactsPerDimension))
	b.WriteString("\n\nWORLD:\n")
	b.WriteString(worldContext(tc.world))
	b.WriteString("\n\n")
	b.WriteString(memoryContext(hits))
	b.WriteString("\n\n")

	if len(tc.conversation) > 0 {
		b.WriteString("RECENT CONVERSATION:\n")
		for i, line := range tc.conversation {
			if i == promptConversation {
				break
			}
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString("CURRENT STATE:\n")
	b.WriteString(stateLine(tc.npc))
	b.WriteString("\n\nCURRENT OBSERVATION:\n")
	b.WriteString(tc.summary)
	b.WriteByte('\n')

	if refl != nil {
		b.WriteString("\nREFLECTION: ")
		b.WriteString(refl.summary())
		b.WriteByte('\n')
	}
	return b.String()
}

func personaContext(p *model.Persona, facts []*model.PersonaFact, maxPerDimension int) string {
	lines := []string{"Name: " + p.Name}
	if len(p.Traits) > 0 {
		lines = append(lines, "Traits: "+strings.Join(p.Traits, ", "))
	}
	if len(p.Habits) > 0 {
		lines = append(lines, "Habits: "+strings.Join(p.Habits, ", "))
	}
	if len(p.Goals) > 0 {
		lines = append(lines, "Goals: "+strings.Join(p.Goals, ", "))
	}
	if p.Background != "" {
		lines = append(lines, "Background: "+p.Background)
	}
	if p.SpeechStyle != "" {
		lines = append(lines, "Speech Style: "+p.SpeechStyle)
	}
	if taboos := stringList(p.Constraints["taboos"]); len(taboos) > 0 {
		lines = append(lines, "Taboos: "+strings.Join(taboos, ", "))
	}
	if rules := stringList(p.Constraints["moral_rules"]); len(rules) > 0 {
		lines = append(lines, "Moral Rules: "+strings.Join(rules, ", "))
	}
	if len(p.Relationships) > 0 {
		lines = append(lines, "Relationships:")
		for _, who := range sortedKeys(p.Relationships) {
			lines = append(lines, fmt.Sprintf("  - %s: %s", who, p.Relationships[who]))
		}
	}
	if fl := factLines(facts, maxPerDimension); len(fl) > 0 {
		lines = append(lines, "", "Persona Facts:")
		lines = append(lines, fl...)
	}
	return strings.Join(lines, "\n")
}

// factLines groups facts by dimension, authored facts first, learned facts
// after. Each group is capped at maxPerDimension.
func factLines(facts []*model.PersonaFact, maxPerDimension int) []string {
	type group struct{ static, learned []string }
	groups := make(map[model.Dimension]*group)
	for _, f := range facts {
		g := groups[f.Dimension]
		if g == nil {
			g = &group{}
			groups[f.Dimension] = g
		}
		if f.IsStatic {
			g.static = append(g.static, f.Content)
		} else {
			g.learned = append(g.learned, f.Content)
		}
	}

	var lines []string
	for _, dim := range model.Dimensions {
		g := groups[dim]
		if g == nil {
			continue
		}
		lines = append(lines, dim.Label()+":")
		for _, c := range capped(g.static, maxPerDimension) {
			lines = append(lines, "  - "+c)
		}
		for _, c := range capped(g.learned, maxPerDimension) {
			lines = append(lines, "  - "+c+" (learned)")
		}
	}
	return lines
}

func worldContext(w *model.World) string {
	lines := []string{"World: " + w.Title}
	if w.Description != "" {
		lines = append(lines, "Description: "+w.Description)
	}
	if len(w.Rules.Laws) > 0 {
		lines = append(lines, "Laws: "+strings.Join(w.Rules.Laws, ", "))
	}
	if len(w.Rules.SocialNorms) > 0 {
		lines = append(lines, "Social Norms: "+strings.Join(w.Rules.SocialNorms, ", "))
	}
	if len(w.Rules.Factions) > 0 {
		lines = append(lines, "Factions:")
		for _, name := range sortedKeys(w.Rules.Factions) {
			lines = append(lines, fmt.Sprintf("  - %s: %s", name, w.Rules.Factions[name]))
		}
	}
	return strings.Join(lines, "\n")
}

func memoryContext(hits []vector.Hit) string {
	if len(hits) == 0 {
		return "No relevant memories."
	}
	lines := []string{"Relevant Memories:"}
	for i, h := range hits {
		if i == promptMemories {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, h.SourceType, truncate(h.Text, promptMemoryChars)))
	}
	return strings.Join(lines, "\n")
}

func stateLine(n *model.NPC) string {
	if len(n.CurrentState) == 0 {
		return "(no state)"
	}
	parts := make([]string, 0, len(n.CurrentState))
	for _, k := range sortedKeys(n.CurrentState) {
		parts = append(parts, fmt.Sprintf("%s: %v", k, n.CurrentState[k]))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func capped(items []string, n int) []string {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

// stringList accepts the list shapes a decoded JSON constraint can take.
func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if list != "" {
			return []string{list}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

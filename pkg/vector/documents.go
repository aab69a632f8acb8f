package vector

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/npcforge/npcforge/pkg/model"
)

// MemoryDocumentID is the episodic vector id of a memory.
func MemoryDocumentID(memoryID string) string { return "mem:" + memoryID }

// FactDocumentID is the persona vector id of a persona fact.
func FactDocumentID(factID string) string { return "fact:" + factID }

// MemoryDocument builds the episodic document for a memory.
func MemoryDocument(m *model.Memory) Document {
	return Document{
		ID:   MemoryDocumentID(m.ID),
		Text: m.Content,
		Metadata: map[string]string{
			MetaSourceType: SourceMemory,
			MetaSourceID:   m.ID,
			MetaNPCID:      m.NPCID,
			"memory_type":  string(m.MemoryType),
			"source":       string(m.Source),
			"importance":   fmt.Sprintf("%.3f", m.Importance),
			MetaCreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// PersonaDocuments splits a persona into one document per populated chunk.
func PersonaDocuments(p *model.Persona) []Document {
	type chunk struct {
		name string
		text string
	}
	var chunks []chunk
	if len(p.Traits) > 0 {
		chunks = append(chunks, chunk{"traits", "Personality traits: " + strings.Join(p.Traits, ", ")})
	}
	if len(p.Habits) > 0 {
		chunks = append(chunks, chunk{"habits", "Behavioral habits: " + strings.Join(p.Habits, ", ")})
	}
	if len(p.Goals) > 0 {
		chunks = append(chunks, chunk{"goals", "Long-term goals: " + strings.Join(p.Goals, ", ")})
	}
	if p.Background != "" {
		chunks = append(chunks, chunk{"background", "Background: " + p.Background})
	}
	if p.SpeechStyle != "" {
		chunks = append(chunks, chunk{"speech_style", "Speech style: " + p.SpeechStyle})
	}
	if len(p.Constraints) > 0 {
		chunks = append(chunks, chunk{"constraints", "Constraints: " + compactJSON(p.Constraints)})
	}

	docs := make([]Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, Document{
			ID:   fmt.Sprintf("persona:%s:%s", p.ID, c.name),
			Text: c.text,
			Metadata: map[string]string{
				MetaSourceType: SourcePersona,
				MetaSourceID:   p.ID,
				MetaPersonaID:  p.ID,
				MetaChunk:      c.name,
				MetaCreatedAt:  p.UpdatedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	return docs
}

// FactDocument builds the persona document for a persona fact.
func FactDocument(f *model.PersonaFact) Document {
	meta := map[string]string{
		MetaSourceType: SourceFact,
		MetaSourceID:   f.ID,
		MetaPersonaID:  f.PersonaID,
		MetaDimension:  string(f.Dimension),
		"source":       f.Source,
		MetaCreatedAt:  f.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if f.NPCID != "" {
		meta[MetaNPCID] = f.NPCID
	}
	return Document{
		ID:       FactDocumentID(f.ID),
		Text:     fmt.Sprintf("[%s] persona fact: %s", f.Dimension, f.Content),
		Metadata: meta,
	}
}

// WorldDocuments splits a world into one document per law, faction, social
// norm and location, plus its global constraints.
func WorldDocuments(w *model.World) []Document {
	var docs []Document
	add := func(chunk string, n int, text string) {
		docs = append(docs, Document{
			ID:   fmt.Sprintf("world:%s:%s:%d", w.ID, chunk, n),
			Text: text,
			Metadata: map[string]string{
				MetaSourceType: SourceWorld,
				MetaSourceID:   w.ID,
				MetaWorldID:    w.ID,
				MetaChunk:      chunk,
				MetaCreatedAt:  w.UpdatedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}

	for i, law := range w.Rules.Laws {
		add("law", i, "Law: "+law)
	}
	for i, name := range sortedKeys(w.Rules.Factions) {
		add("faction", i, fmt.Sprintf("Faction %s: %s", name, w.Rules.Factions[name]))
	}
	for i, norm := range w.Rules.SocialNorms {
		add("norm", i, "Social norm: "+norm)
	}
	for i, name := range sortedKeys(w.Locations) {
		add("location", i, fmt.Sprintf("Location %s: %s", name, compactJSON(w.Locations[name])))
	}
	if len(w.GlobalConstraints) > 0 {
		add("constraints", 0, "Global constraints: "+compactJSON(w.GlobalConstraints))
	}
	return docs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

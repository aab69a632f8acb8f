package model

import (
	"fmt"
	"time"
)

// MemoryType is the tier a memory lives in.
type MemoryType string

// Memory tiers.
const (
	ShortTerm MemoryType = "short_term"
	LongTerm  MemoryType = "long_term"
)

// ParseMemoryType validates a tier name. An empty string is accepted and
// returned as "" so callers can treat it as "any tier".
func ParseMemoryType(s string) (MemoryType, error) {
	switch MemoryType(s) {
	case "", ShortTerm, LongTerm:
		return MemoryType(s), nil
	}
	return "", NewValidation("memory_type", "must be one of: short_term long_term")
}

// TierFor returns long_term when importance meets the threshold.
func TierFor(importance, threshold float64) MemoryType {
	if importance >= threshold {
		return LongTerm
	}
	return ShortTerm
}

// Source says where a memory came from.
type Source string

// Memory sources.
const (
	SourceObservation Source = "observation"
	SourceAction      Source = "action"
	SourceReflection  Source = "reflection"
)

// ParseSource validates a memory source; empty means observation.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case "":
		return SourceObservation, nil
	case SourceObservation, SourceAction, SourceReflection:
		return Source(s), nil
	}
	return "", NewValidation("source", "must be one of: observation action reflection")
}

// DefaultImportance is used when a memory is created without a score.
const DefaultImportance = 0.3

// Memory is one episodic record of an NPC.
type Memory struct {
	ID             string     `json:"memory_id"`
	NPCID          string     `json:"npc_id"`
	MemoryType     MemoryType `json:"memory_type"`
	Content        string     `json:"content"`
	Source         Source     `json:"source"`
	Importance     float64    `json:"importance"`
	Tags           []string   `json:"tags"`
	LinkedEntities []string   `json:"linked_entities"`
	CreatedAt      time.Time  `json:"created_at"`
}

// MemoryInput is the request body for creating a memory directly.
type MemoryInput struct {
	Content        string   `json:"content" validate:"required,max=10000"`
	Source         string   `json:"source,omitempty"`
	Importance     *float64 `json:"importance,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	LinkedEntities []string `json:"linked_entities,omitempty"`
}

// Validate checks the memory input fields.
func (in MemoryInput) Validate() error {
	if err := ValidateStruct(in); err != nil {
		return err
	}
	if in.Importance != nil && (*in.Importance < 0 || *in.Importance > 1) {
		return NewValidation("importance", "must be between 0 and 1, got %s", fmt.Sprint(*in.Importance))
	}
	_, err := ParseSource(in.Source)
	return err
}

// MemoryFilter narrows memory listings.
type MemoryFilter struct {
	MemoryType MemoryType
	Limit      int
}

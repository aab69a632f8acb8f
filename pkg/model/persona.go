package model

import (
	"strings"
	"time"
)

// Persona is a reusable personality profile shared by any number of NPCs.
type Persona struct {
	ID            string                 `json:"persona_id"`
	Name          string                 `json:"name"`
	Traits        []string               `json:"traits"`
	Habits        []string               `json:"habits"`
	Goals         []string               `json:"goals"`
	Background    string                 `json:"background"`
	SpeechStyle   string                 `json:"speech_style"`
	Relationships map[string]string      `json:"relationships"`
	Constraints   map[string]interface{} `json:"constraints"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// PersonaInput carries the client-settable persona fields.
type PersonaInput struct {
	PersonaID     string                 `json:"persona_id,omitempty"`
	Name          string                 `json:"name" validate:"required,max=200"`
	Traits        []string               `json:"traits"`
	Habits        []string               `json:"habits"`
	Goals         []string               `json:"goals"`
	Background    string                 `json:"background"`
	SpeechStyle   string                 `json:"speech_style"`
	Relationships map[string]string      `json:"relationships"`
	Constraints   map[string]interface{} `json:"constraints"`
}

// Dimension classifies a persona fact.
type Dimension string

// Persona fact dimensions.
const (
	DimensionCharacteristic Dimension = "characteristic"
	DimensionRoutineHabit   Dimension = "routine_habit"
	DimensionGoalPlan       Dimension = "goal_plan"
	DimensionExperience     Dimension = "experience"
	DimensionRelationship   Dimension = "relationship"
)

// Dimensions lists every dimension in prompt order.
var Dimensions = []Dimension{
	DimensionCharacteristic,
	DimensionRoutineHabit,
	DimensionGoalPlan,
	DimensionExperience,
	DimensionRelationship,
}

var dimensionAliases = map[string]Dimension{
	"characteristic": DimensionCharacteristic,
	"trait":          DimensionCharacteristic,
	"traits":         DimensionCharacteristic,
	"routine_habit":  DimensionRoutineHabit,
	"routine":        DimensionRoutineHabit,
	"habit":          DimensionRoutineHabit,
	"habits":         DimensionRoutineHabit,
	"goal_plan":      DimensionGoalPlan,
	"goal":           DimensionGoalPlan,
	"goals":          DimensionGoalPlan,
	"plan":           DimensionGoalPlan,
	"experience":     DimensionExperience,
	"experiences":    DimensionExperience,
	"relationship":   DimensionRelationship,
	"relationships":  DimensionRelationship,
}

// ParseDimension normalises a dimension name, accepting common aliases.
func ParseDimension(s string) (Dimension, bool) {
	d, ok := dimensionAliases[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// Label is the heading used for the dimension in prompts.
func (d Dimension) Label() string {
	switch d {
	case DimensionCharacteristic:
		return "Character Traits"
	case DimensionRoutineHabit:
		return "Routines & Habits"
	case DimensionGoalPlan:
		return "Goals & Plans"
	case DimensionExperience:
		return "Experiences"
	case DimensionRelationship:
		return "Relationships"
	}
	return string(d)
}

// Fact sources.
const (
	FactSourceAuthored   = "PeaCoK"
	FactSourceReflection = "Reflection"
)

// PersonaFact is a single atomic statement about a persona. Static facts are
// authored; dynamic facts are learned through reflection and may be scoped to
// one NPC.
type PersonaFact struct {
	ID         string    `json:"fact_id"`
	PersonaID  string    `json:"persona_id"`
	NPCID      string    `json:"npc_id,omitempty"`
	Dimension  Dimension `json:"dimension"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	IsStatic   bool      `json:"is_static"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

// PersonaFactInput is the request body for authoring a fact.
type PersonaFactInput struct {
	NPCID     string `json:"npc_id,omitempty"`
	Dimension string `json:"dimension" validate:"required"`
	Content   string `json:"content" validate:"required,max=2000"`
	Source    string `json:"source,omitempty"`
	IsStatic  *bool  `json:"is_static,omitempty"`
}

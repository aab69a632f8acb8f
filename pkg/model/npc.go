package model

import "time"

// Conventional keys of NPC.CurrentState.
const (
	StateEmotion     = "emotion"
	StateGoal        = "goal"
	StateLocation    = "location"
	StateHP          = "hp"
	StateStatusFlags = "status_flags"
	StateLastAction  = "last_action"
	StateLastTurnAt  = "last_turn_at"
)

// NPCConfig holds the per-NPC tuning knobs of the turn pipeline.
type NPCConfig struct {
	RetrievalTopK        int     `json:"retrieval_top_k" validate:"min=1,max=50"`
	ImportanceThreshold  float64 `json:"importance_threshold" validate:"min=0,max=1"`
	ReflectionThreshold  float64 `json:"reflection_threshold" validate:"min=0,max=1"`
	MaxFactsPerDimension int     `json:"max_facts_per_dimension" validate:"min=1,max=20"`
}

// DefaultNPCConfig returns the configuration applied to new NPCs.
func DefaultNPCConfig() NPCConfig {
	return NPCConfig{
		RetrievalTopK:        5,
		ImportanceThreshold:  0.7,
		ReflectionThreshold:  0.7,
		MaxFactsPerDimension: 3,
	}
}

// Validate checks the config ranges.
func (c NPCConfig) Validate() error {
	return ValidateStruct(c)
}

// NPC is an autonomous non-player character.
type NPC struct {
	ID           string                 `json:"npc_id"`
	Name         string                 `json:"name"`
	Role         string                 `json:"role"`
	PersonaID    string                 `json:"persona_id"`
	WorldID      string                 `json:"world_id"`
	CurrentState map[string]interface{} `json:"current_state"`
	Config       NPCConfig              `json:"config"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// StateString returns a string state value or "".
func (n *NPC) StateString(key string) string {
	if n == nil || n.CurrentState == nil {
		return ""
	}
	if s, ok := n.CurrentState[key].(string); ok {
		return s
	}
	return ""
}

// Clone returns a copy whose state map can be mutated independently.
func (n *NPC) Clone() *NPC {
	if n == nil {
		return nil
	}
	c := *n
	c.CurrentState = make(map[string]interface{}, len(n.CurrentState))
	for k, v := range n.CurrentState {
		c.CurrentState[k] = v
	}
	return &c
}

// NPCInput carries the client-settable NPC fields for create and update.
type NPCInput struct {
	Name         string                 `json:"name" validate:"required,max=200"`
	Role         string                 `json:"role" validate:"max=200"`
	PersonaID    string                 `json:"persona_id" validate:"required"`
	WorldID      string                 `json:"world_id" validate:"required"`
	CurrentState map[string]interface{} `json:"current_state,omitempty"`
	Config       *NPCConfig             `json:"config,omitempty"`
}

// NPCFilter narrows NPC listings.
type NPCFilter struct {
	WorldID string
	Limit   int
}

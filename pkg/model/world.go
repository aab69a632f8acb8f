package model

import "time"

// WorldRules are the laws, factions and norms of a setting.
type WorldRules struct {
	Laws        []string          `json:"laws"`
	Factions    map[string]string `json:"factions"`
	SocialNorms []string          `json:"social_norms"`
}

// World is shared setting knowledge.
type World struct {
	ID                string                            `json:"world_id"`
	Title             string                            `json:"title"`
	Description       string                            `json:"description,omitempty"`
	Rules             WorldRules                        `json:"rules"`
	Locations         map[string]map[string]interface{} `json:"locations"`
	DangerLevels      map[string]float64                `json:"danger_levels"`
	GlobalConstraints map[string]interface{}            `json:"global_constraints"`
	CreatedAt         time.Time                         `json:"created_at"`
	UpdatedAt         time.Time                         `json:"updated_at"`
}

// WorldInput carries the client-settable world fields.
type WorldInput struct {
	WorldID           string                            `json:"world_id,omitempty"`
	Title             string                            `json:"title" validate:"required,max=200"`
	Description       string                            `json:"description,omitempty"`
	Rules             WorldRules                        `json:"rules"`
	Locations         map[string]map[string]interface{} `json:"locations"`
	DangerLevels      map[string]float64                `json:"danger_levels"`
	GlobalConstraints map[string]interface{}            `json:"global_constraints"`
}

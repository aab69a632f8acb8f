package model

import "time"

// ToolDefinition describes a tool, built-in or dynamic. Dynamic tools carry
// the interpreter source in Code.
type ToolDefinition struct {
	ID               string                 `json:"tool_id"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	ParametersSchema map[string]interface{} `json:"parameters_schema"`
	Code             string                 `json:"code,omitempty"`
	Builtin          bool                   `json:"builtin"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// ToolInput is the request body for creating or updating a dynamic tool.
type ToolInput struct {
	Name             string                 `json:"name" validate:"required,max=64"`
	Description      string                 `json:"description" validate:"max=2000"`
	ParametersSchema map[string]interface{} `json:"parameters_schema" validate:"required"`
	Code             string                 `json:"code" validate:"required"`
}

package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/npcforge/npcforge/pkg/model"
)

// Schema helpers for building JSON Schema definitions.

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty creates a string property.
func StringProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// StringEnumProperty creates a string property with allowed values.
func StringEnumProperty(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// IntegerProperty creates an integer property with a lower bound.
func IntegerProperty(description string, minimum int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"minimum":     minimum,
	}
}

// ArrayProperty creates an array property with the given item schema.
func ArrayProperty(description string, items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       items,
	}
}

// compileSchema parses raw as a JSON Schema and resolves it for validation.
// Only object schemas are accepted since tool arguments are always objects.
func compileSchema(raw map[string]interface{}) (*jsonschema.Resolved, error) {
	if len(raw) == 0 {
		return nil, model.NewValidation("parameters_schema", "is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, model.NewValidation("parameters_schema", "is not serializable: %v", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, model.NewValidation("parameters_schema", "is not a JSON Schema: %v", err)
	}
	if s.Type != "object" {
		return nil, model.NewValidation("parameters_schema", "must have type \"object\"")
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, model.NewValidation("parameters_schema", "does not compile: %v", err)
	}
	return resolved, nil
}

// validateArgs checks args against a compiled schema and returns them
// normalised through JSON, so Go-typed callers see the same values as
// decoded request bodies.
func validateArgs(schema *jsonschema.Resolved, args map[string]interface{}) (map[string]interface{}, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("arguments are not serializable: %w", err)
	}
	var instance map[string]interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("arguments are not an object: %w", err)
	}
	if instance == nil {
		instance = map[string]interface{}{}
	}
	if err := schema.Validate(instance); err != nil {
		return nil, err
	}
	return instance, nil
}

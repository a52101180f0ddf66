package intent

import (
	"fmt"
	"sort"
)

// Property describes a single entity slot in an intent schema, following
// JSON Schema conventions.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Schema defines one extractable intent for a tenant. Schemas are stored
// per tenant and versioned; only active schemas are offered to the model.
type Schema struct {
	Name                string              `json:"name"`
	Version             int                 `json:"version"`
	Description         string              `json:"description"`
	Parameters          map[string]Property `json:"parameters"`
	Required            []string            `json:"required,omitempty"`
	Priority            int                 `json:"priority"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	FallbackAction      string              `json:"fallback_action,omitempty"`
	Active              bool                `json:"active"`
}

// Validate checks the schema for internal consistency.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("schema %s: confidence threshold must be in [0,1], got %v", s.Name, s.ConfidenceThreshold)
	}
	for _, req := range s.Required {
		if _, ok := s.Parameters[req]; !ok {
			return fmt.Errorf("schema %s: required field %q is not declared in parameters", s.Name, req)
		}
	}
	return nil
}

// FunctionParameters renders the schema as a JSON Schema object suitable for
// LLM function declarations. Required slots are not enforced at the model
// level so multi-turn collection can fill them incrementally.
func (s *Schema) FunctionParameters() map[string]any {
	props := make(map[string]any, len(s.Parameters))
	for name, p := range s.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

// MissingRequired returns the required slots absent from entities.
func (s *Schema) MissingRequired(entities map[string]any) []string {
	var missing []string
	for _, req := range s.Required {
		if _, ok := entities[req]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

// ActiveByPriority filters to active schemas and orders them by descending
// priority, then by name for a stable order.
func ActiveByPriority(schemas []Schema) []Schema {
	out := make([]Schema, 0, len(schemas))
	for _, s := range schemas {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FindSchema returns the schema with the given name, or nil.
func FindSchema(schemas []Schema, name string) *Schema {
	for i := range schemas {
		if schemas[i].Name == name {
			return &schemas[i]
		}
	}
	return nil
}

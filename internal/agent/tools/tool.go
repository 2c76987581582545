// Package tools provides the tool model and the registry the agent
// loop executes against. Tools are grouped into skills; a skill is the
// unit of enablement, a tool is the unit of execution.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openclaw/claw/internal/agent/ai"
)

// Param describes one tool parameter. Order matters: prompt listings
// render signatures in declaration order.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, number or boolean
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Tool is one callable capability. Run must be safe to retry: the
// loop retries a failed call once before recording the failure.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Dangerous   bool    `json:"dangerous"`
	Params      []Param `json:"params,omitempty"`

	Run func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Skill groups tools under one enable/disable toggle. Builtins are
// never removed, only disabled; custom skills upsert by ID.
type Skill struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Icon           string   `json:"icon,omitempty"`
	Category       string   `json:"category,omitempty"`
	Builtin        bool     `json:"builtin"`
	Enabled        bool     `json:"enabled"`
	Tools          []Tool   `json:"tools"`
	ConfigRequired []string `json:"configRequired,omitempty"`
}

// Signature renders the tool as "name(param, optional?)" for prompt
// listings.
func (t *Tool) Signature() string {
	parts := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		parts = append(parts, name)
	}
	return fmt.Sprintf("%s(%s)", t.Name, strings.Join(parts, ", "))
}

// Definition derives the provider-agnostic schema for this tool.
func (t *Tool) Definition() ai.ToolDefinition {
	properties := make(map[string]any, len(t.Params))
	var required []string
	for _, p := range t.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		raw = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return ai.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: raw,
	}
}

// ValidateArgs checks required fields and primitive types against the
// declared params before Run is invoked. Extra arguments pass through;
// models add them and tools ignore them.
func (t *Tool) ValidateArgs(args map[string]any) error {
	for _, p := range t.Params {
		value, ok := args[p.Name]
		if !ok {
			if p.Required {
				return fmt.Errorf("missing required argument %q", p.Name)
			}
			continue
		}
		switch p.Type {
		case "string":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("argument %q must be a string", p.Name)
			}
			if len(p.Enum) > 0 && !containsString(p.Enum, s) {
				return fmt.Errorf("argument %q must be one of: %s", p.Name, strings.Join(p.Enum, ", "))
			}
		case "number":
			switch value.(type) {
			case float64, int, int64:
			default:
				return fmt.Errorf("argument %q must be a number", p.Name)
			}
		case "boolean":
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("argument %q must be a boolean", p.Name)
			}
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// StringArg reads a string argument, empty when absent or mistyped.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// NumberArg reads a numeric argument. JSON decoding yields float64.
func NumberArg(args map[string]any, name string) (float64, bool) {
	switch v := args[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// BoolArg reads a boolean argument, false when absent or mistyped.
func BoolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}

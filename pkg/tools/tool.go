// Package tools defines functions the LLM can call during a discovery conversation and
// the registry that dispatches them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Tool is a function the model may call (OpenAI function-calling shape).
type Tool interface {
	Name() string                         // Function name (e.g., "web_search")
	Description() string                  // What the function does
	ParametersSchema() *jsonschema.Schema // JSON schema for the arguments object
	Call(ctx context.Context, arguments string) (string, error)
}

// Func is the body of a tool built with New. arguments is the raw JSON object the
// model produced.
type Func func(ctx context.Context, arguments string) (string, error)

type funcTool struct {
	name        string
	description string
	schema      *jsonschema.Schema
	fn          Func
}

func (t *funcTool) Name() string                         { return t.name }
func (t *funcTool) Description() string                  { return t.description }
func (t *funcTool) ParametersSchema() *jsonschema.Schema { return t.schema }

func (t *funcTool) Call(ctx context.Context, arguments string) (string, error) {
	return t.fn(ctx, arguments)
}

// New creates a tool from a name, description, schema and body.
//
// Example:
//
//	clock := tools.New("current_time", "Current local time", tools.ObjectSchema(nil),
//	    func(ctx context.Context, _ string) (string, error) {
//	        return time.Now().Format(time.RFC1123), nil
//	    })
func New(name, description string, schema *jsonschema.Schema, fn Func) Tool {
	return &funcTool{name: name, description: description, schema: schema, fn: fn}
}

// Property describes one string/number/boolean argument of an object schema.
type Property struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ObjectSchema builds an object schema with properties in declaration order.
func ObjectSchema(props []Property) *jsonschema.Schema {
	properties := orderedmap.New[string, *jsonschema.Schema]()
	var required []string
	for _, p := range props {
		properties.Set(p.Name, &jsonschema.Schema{
			Type:        p.Type,
			Description: p.Description,
		})
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// ParametersMap converts a tool schema into the generic map form provider SDKs take.
// A nil schema yields an empty object schema.
func ParametersMap(schema *jsonschema.Schema) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool parameters schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to convert tool parameters schema: %w", err)
	}
	return out, nil
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolHandler dispatches tool calls for a Server.
type ToolHandler interface {
	// Tools returns the tool definitions the server exposes.
	Tools() []ToolDefinition
	// HandleToolCall handles one invocation and returns the result.
	HandleToolCall(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error)
}

// Registry implements ToolHandler from typed tool registrations. Input
// schemas are reflected from the parameter struct's jsonschema tags.
type Registry struct {
	tools []registration
}

type registration struct {
	invoke      func(context.Context, json.RawMessage) (*ToolCallResult, error)
	schema      json.RawMessage
	name        string
	description string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddTool registers a typed tool. The parameter struct T supplies the input
// schema; handler errors become isError tool results rather than protocol
// errors, so the model can read them.
func AddTool[T any](r *Registry, name, description string, handler func(context.Context, T) (string, error)) *Registry {
	invoke := func(ctx context.Context, args json.RawMessage) (*ToolCallResult, error) {
		var params T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
			}
		}

		text, err := handler(ctx, params)
		if err != nil {
			return &ToolCallResult{
				Content: []ContentItem{{Type: "text", Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return &ToolCallResult{
			Content: []ContentItem{{Type: "text", Text: text}},
		}, nil
	}

	r.tools = append(r.tools, registration{
		name:        name,
		description: description,
		schema:      generateSchema[T](),
		invoke:      invoke,
	})
	return r
}

// Tools implements ToolHandler.
func (r *Registry) Tools() []ToolDefinition {
	out := make([]ToolDefinition, len(r.tools))
	for i, t := range r.tools {
		out[i] = ToolDefinition{
			Name:        t.name,
			Description: t.description,
			InputSchema: t.schema,
		}
	}
	return out
}

// HandleToolCall implements ToolHandler.
func (r *Registry) HandleToolCall(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error) {
	for _, t := range r.tools {
		if t.name == name {
			return t.invoke(ctx, args)
		}
	}
	return &ToolCallResult{
		Content: []ContentItem{{Type: "text", Text: fmt.Sprintf("Unknown tool: %s", name)}},
		IsError: true,
	}, nil
}

func generateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	schema := reflector.Reflect(zero)
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("generate schema for %T: %v", zero, err))
	}
	return json.RawMessage(data)
}

var _ ToolHandler = (*Registry)(nil)

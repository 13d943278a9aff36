package tools

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when the model calls a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Registry holds the tools offered to the model, in registration order.
type Registry struct {
	tools []Tool
	index map[string]Tool
}

// NewRegistry registers tools. A later tool with the same name replaces an earlier one.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{index: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	if _, exists := r.index[t.Name()]; exists {
		for i, existing := range r.tools {
			if existing.Name() == t.Name() {
				r.tools[i] = t
			}
		}
	} else {
		r.tools = append(r.tools, t)
	}
	r.index[t.Name()] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.index[name]
	return t, ok
}

// List returns the registered tools in order.
func (r *Registry) List() []Tool {
	return append([]Tool(nil), r.tools...)
}

// Names returns the registered tool names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name()
	}
	return names
}

// Execute runs the named tool. A panicking tool is reported as an error.
func (r *Registry) Execute(ctx context.Context, name, arguments string) (result string, err error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, p)
		}
	}()
	return tool.Call(ctx, arguments)
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// HandlerFunc executes one tool call.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

// ToolDefinition binds a tool name to its schema and handler. Internal tools
// are hidden from tools/list unless the client negotiated the internal
// capability.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]interface{}
	Internal    bool
	Handler     HandlerFunc
}

// ToolRegistry maps tool names to handlers. It is populated at startup and
// read-only afterwards; registering a duplicate name is an error the caller
// treats as fatal, so one tool can never silently shadow another.
type ToolRegistry struct {
	tools map[string]*ToolDefinition
	order []string
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: map[string]*ToolDefinition{}}
}

// Register adds one tool definition.
func (r *ToolRegistry) Register(def *ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool with empty name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister registers a batch, panicking on duplicates. Registration runs
// once at startup before any request is served.
func (r *ToolRegistry) MustRegister(defs ...*ToolDefinition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic("mcp: " + err.Error())
		}
	}
}

// Get resolves a tool by name.
func (r *ToolRegistry) Get(name string) (*ToolDefinition, bool) {
	def, ok := r.tools[name]
	return def, ok
}

// List returns tool definitions in registration order; internal tools only
// when includeInternal is set.
func (r *ToolRegistry) List(includeInternal bool) []*ToolDefinition {
	out := make([]*ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name]
		if def.Internal && !includeInternal {
			continue
		}
		out = append(out, def)
	}
	return out
}

// Names returns all registered names, sorted.
func (r *ToolRegistry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

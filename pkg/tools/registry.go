package tools

import (
	"context"
	"fmt"
	"sync"

	"echoai/pkg/llm"
)

// ToolDefinition and ParamSpec are the provider-neutral schema shapes shared
// with the LLM layer.
type ToolDefinition = llm.ToolDefinition
type ParamSpec = llm.ParamSpec

// ToolFunc executes one tool call. The returned value is serialized to JSON
// and fed back to the model; a returned error is converted into an error
// payload by the engine, it never aborts the conversation.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	def ToolDefinition
	fn  ToolFunc
}

// Registry is the central inventory of tools available to the engine. Tools
// are advertised to the model in registration order, so the advertisement is
// deterministic across runs.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*entry
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*entry),
	}
}

// Register adds a tool. Re-registering a name overwrites the definition and
// function but keeps the tool's original position in the advertisement order.
func (r *Registry) Register(def ToolDefinition, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tools[def.Name]; ok {
		existing.def = def
		existing.fn = fn
		return
	}
	r.tools[def.Name] = &entry{def: def, fn: fn}
	r.order = append(r.order, def.Name)
}

// Resolve returns the function registered under a name. An unknown name is a
// fatal condition for the invocation loop, never silently skipped.
func (r *Registry) Resolve(name string) (ToolFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", llm.ErrToolNotFound, name)
	}
	return e.fn, nil
}

// Definition returns the schema registered under a name.
func (r *Registry) Definition(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return e.def, true
}

// Schemas returns all tool definitions in registration order.
func (r *Registry) Schemas() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

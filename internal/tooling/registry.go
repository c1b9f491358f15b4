package tooling

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/waypoint/pkg/schema"
)

// Registry dispatches tool calls to named invokers, with an optional
// fallback for names that are not registered.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Invoker
	fallback Invoker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Invoker)}
}

// Register adds a tool. Returns error on duplicate or empty name.
func (r *Registry) Register(name string, inv Invoker) error {
	if inv == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool invoker is nil")
	}
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}
	r.tools[name] = inv
	return nil
}

// SetFallback sets the invoker used for unregistered names.
func (r *Registry) SetFallback(inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = inv
}

// Has checks if a tool is registered by name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches a call by tool name.
func (r *Registry) Invoke(ctx context.Context, call Call) (*Response, error) {
	r.mu.RLock()
	inv, ok := r.tools[call.ToolName]
	if !ok {
		inv = r.fallback
	}
	r.mu.RUnlock()

	if inv == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool %q not registered", call.ToolName)
	}
	return inv.Invoke(ctx, call)
}

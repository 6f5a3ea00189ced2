// Package tools implements the tool registry (C12): thread-safe
// registration and lookup of callable tools by name.
package tools

import (
	"sync"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// Tool parameter limits, guarding against resource exhaustion from a
// misbehaving caller.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256
	// MaxTools is the maximum number of tools a single registry may hold.
	MaxTools = 512
)

// Registry manages the set of tools available to the orchestrator.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]orkit.Tool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]orkit.Tool)}
}

// Register adds tool to the registry, replacing any existing tool of the
// same name. It rejects names longer than MaxToolNameLength or a registry
// already at MaxTools distinct names.
func (r *Registry) Register(tool orkit.Tool) error {
	if len(tool.Name) > MaxToolNameLength {
		return orkit.New(orkit.CodeValidationError, "tool name exceeds maximum length").
			WithDetails(map[string]any{"name": tool.Name, "max": MaxToolNameLength})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; !exists && len(r.tools) >= MaxTools {
		return orkit.New(orkit.CodeValidationError, "tool registry is full").
			WithDetails(map[string]any{"max": MaxTools})
	}
	r.tools[tool.Name] = tool
	return nil
}

// Unregister removes a tool by name. A no-op if the tool is not present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool and whether it was found.
func (r *Registry) Get(name string) (orkit.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools, in no particular order.
func (r *Registry) List() []orkit.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]orkit.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Len reports how many tools are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

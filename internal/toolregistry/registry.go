// Package toolregistry maps tool names to executors and materializes raw
// parameter text into typed values driven by each tool's declared schema.
package toolregistry

import (
	"fmt"
	"sort"
	"sync"

	"loom/internal/agent/ports"
	"loom/internal/shared/logging"
)

// ErrUnknownTool is returned by Get for unregistered names.
type ErrUnknownTool struct {
	Name string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Registry holds the tool catalog. It is populated at startup and read-only
// afterwards, so lookups take only a read lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]ports.ToolExecutor
	logger logging.Logger
}

// New creates an empty registry.
func New(logger logging.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]ports.ToolExecutor),
		logger: logging.OrNop(logger),
	}
}

// Register adds a tool. Re-registering a name overwrites the previous entry
// with a warning; there is no dynamic unregistration.
func (r *Registry) Register(tool ports.ToolExecutor) {
	name := tool.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool %s re-registered, overwriting previous spec", name)
	}
	r.tools[name] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (ports.ToolExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, &ErrUnknownTool{Name: name}
	}
	return tool, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Definition returns the schema for name.
func (r *Registry) Definition(name string) (ports.ToolDefinition, error) {
	tool, err := r.Get(name)
	if err != nil {
		return ports.ToolDefinition{}, err
	}
	return tool.Definition(), nil
}

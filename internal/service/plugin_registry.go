package service

import (
	"context"
	"fmt"
	"sync"

	"appbuilder/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Plugin Registry — per-kind element lifecycle hooks
// ─────────────────────────────────────────────────────────────

// ElementPlugin hooks into the Create/Delete lifecycle of one element kind.
type ElementPlugin interface {
	// Kind returns the element kind this plugin handles.
	Kind() domain.ElementKind
	// OnCreate is called after an element of this kind is created.
	OnCreate(ctx context.Context, el domain.Element) error
	// OnDelete is called before an element of this kind is deleted.
	OnDelete(ctx context.Context, el domain.Element) error
}

// MCPToolDef describes a tool that a plugin exposes to the MCP server.
type MCPToolDef struct {
	Name        string         // e.g. "table_generate_columns"
	Description string         // shown to agents
	InputSchema map[string]any // JSON Schema for parameters
	Destructive bool           // requires human approval
	// Handler executes the tool.
	Handler func(ctx context.Context, params map[string]any) (any, error)
}

// MCPCapablePlugin extends ElementPlugin with MCP tool declarations.
// Plugins that implement this interface have their tools registered with the
// MCP server on startup.
type MCPCapablePlugin interface {
	ElementPlugin
	MCPTools() []MCPToolDef
}

// PluginRegistry manages registered element plugins.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[domain.ElementKind]ElementPlugin
}

// NewPluginRegistry creates an empty plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{plugins: make(map[domain.ElementKind]ElementPlugin)}
}

// Register adds a plugin to the registry. Panics on duplicate registration.
func (r *PluginRegistry) Register(p ElementPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := p.Kind()
	if _, exists := r.plugins[k]; exists {
		panic(fmt.Sprintf("plugin registry: duplicate registration for kind %s", k))
	}
	r.plugins[k] = p
}

// OnCreate dispatches a create lifecycle event to the relevant plugin (if any).
func (r *PluginRegistry) OnCreate(ctx context.Context, el domain.Element) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	p, ok := r.plugins[el.Kind()]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.OnCreate(ctx, el)
}

// OnDelete dispatches a delete lifecycle event to the relevant plugin (if any).
func (r *PluginRegistry) OnDelete(ctx context.Context, el domain.Element) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	p, ok := r.plugins[el.Kind()]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.OnDelete(ctx, el)
}

// ForEach iterates all registered plugins. Used by the MCP server to
// register tools for each plugin kind.
func (r *PluginRegistry) ForEach(fn func(ElementPlugin)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		fn(p)
	}
}

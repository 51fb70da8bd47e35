package binding

import (
	"context"
	"fmt"
	"sync"

	"appbuilder/internal/domain"
)

// ── Source ──────────────────────────────────────────────────
// A Source fetches the raw payload for one kind of binding. Normalization
// into records, fallback substitution and error reporting happen in the
// Resolver so every source behaves the same at the call site.

// Source is implemented once per domain.BindingSource.
type Source interface {
	// Kind returns the descriptor source this implementation serves.
	Kind() domain.BindingSource

	// Fetch validates the descriptor's config and returns the raw result.
	// Configuration problems wrap domain.ErrInvalidBinding.
	Fetch(ctx context.Context, desc domain.BindingDescriptor) (any, error)
}

// Registry maps descriptor sources to implementations.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.BindingSource]Source
}

// NewRegistry creates a registry holding the given sources.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[domain.BindingSource]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the source for its kind.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Kind()] = s
}

// Get returns the source for kind.
func (r *Registry) Get(kind domain.BindingSource) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", domain.ErrInvalidBinding, kind)
	}
	return s, nil
}

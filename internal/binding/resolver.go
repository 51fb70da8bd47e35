package binding

import (
	"context"
	"errors"
	"log"

	"appbuilder/internal/domain"
)

// Result is the normalized outcome of resolving a binding.
//
// Data is never nil. When Error is set Data is empty unless the descriptor
// carries fallback rows, in which case they are shown and Fallback is true;
// the error stays set either way.
type Result struct {
	Data     []domain.Record `json:"data"`
	Loading  bool            `json:"loading"`
	Error    string          `json:"error,omitempty"`
	Fallback bool            `json:"fallback,omitempty"`
}

// Resolver turns descriptors into Results using a source registry.
type Resolver struct {
	sources *Registry
}

// NewResolver creates a resolver over sources.
func NewResolver(sources *Registry) *Resolver {
	return &Resolver{sources: sources}
}

// NewDefaultResolver wires the three standard sources. querier may be nil
// when only fixtures are used.
func NewDefaultResolver(client Doer, querier TableQuerier, fixtures *FixtureProvider) *Resolver {
	return NewResolver(NewRegistry(
		NewStaticSource(),
		NewAPISource(client, fixtures),
		NewManagedSource(querier, fixtures),
	))
}

// Synchronous reports whether desc resolves without suspending.
func (r *Resolver) Synchronous(desc *domain.BindingDescriptor) bool {
	return desc == nil || desc.Source == domain.SourceStatic
}

// Resolve fetches and normalizes desc. It never returns a Go error: both
// configuration and transport failures are reported in Result.Error.
func (r *Resolver) Resolve(ctx context.Context, desc *domain.BindingDescriptor) Result {
	if desc == nil {
		return Result{Data: []domain.Record{}}
	}

	src, err := r.sources.Get(desc.Source)
	if err != nil {
		return configError(err)
	}

	raw, err := src.Fetch(ctx, *desc)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidBinding) {
			return configError(err)
		}
		log.Printf("binding: %s source: %v", desc.Source, err)
		res := Result{Data: []domain.Record{}, Error: err.Error()}
		if len(desc.Fallback) > 0 {
			res.Data = toRecords(desc.Fallback, desc.Type)
			res.Fallback = true
		}
		return res
	}

	return Result{Data: toRecords(raw, desc.Type)}
}

func configError(err error) Result {
	return Result{Data: []domain.Record{}, Error: err.Error()}
}

package binding

import (
	"context"
	"fmt"

	"appbuilder/internal/domain"
)

// TableQuerier runs managed-table reads. Projection, ordering and the limit
// are executed by the backend.
type TableQuerier interface {
	QueryTable(ctx context.Context, q domain.TableQuery) ([]domain.Record, error)
}

// TableDescriber lists the columns of a managed table.
type TableDescriber interface {
	TableColumns(ctx context.Context, backend, table string) ([]string, error)
}

type managedSource struct {
	querier  TableQuerier
	fixtures *FixtureProvider
}

// NewManagedSource creates the managed-table source. Queries against
// FixtureBackend go to fixtures; everything else goes to querier.
func NewManagedSource(querier TableQuerier, fixtures *FixtureProvider) Source {
	return &managedSource{querier: querier, fixtures: fixtures}
}

func (s *managedSource) Kind() domain.BindingSource { return domain.SourceManaged }

func (s *managedSource) Fetch(ctx context.Context, desc domain.BindingDescriptor) (any, error) {
	cfg, err := desc.ManagedConfig()
	if err != nil {
		return nil, err
	}
	q := domain.TableQuery{
		Backend: cfg.Backend,
		Table:   cfg.Table,
		Columns: cfg.Columns,
		OrderBy: cfg.OrderBy,
		Limit:   cfg.Limit,
	}

	var rows []domain.Record
	switch {
	case q.Backend == FixtureBackend:
		if s.fixtures == nil {
			return nil, fmt.Errorf("fixture provider not configured")
		}
		rows, err = s.fixtures.QueryTable(ctx, q)
	case s.querier == nil:
		return nil, fmt.Errorf("no managed backend configured")
	default:
		rows, err = s.querier.QueryTable(ctx, q)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Table, err)
	}
	return rows, nil
}

// Describer routes column lookups the same way the managed source routes
// queries.
func Describer(backends TableDescriber, fixtures *FixtureProvider) TableDescriber {
	return describer{backends: backends, fixtures: fixtures}
}

type describer struct {
	backends TableDescriber
	fixtures *FixtureProvider
}

func (d describer) TableColumns(ctx context.Context, backend, table string) ([]string, error) {
	if backend == FixtureBackend && d.fixtures != nil {
		return d.fixtures.TableColumns(ctx, backend, table)
	}
	if d.backends == nil {
		return nil, fmt.Errorf("no managed backend configured")
	}
	return d.backends.TableColumns(ctx, backend, table)
}

package plugins

import (
	"context"
	"errors"
	"fmt"

	"appbuilder/internal/binding"
	"appbuilder/internal/domain"
	"appbuilder/internal/service"
)

// ─────────────────────────────────────────────────────────────
// Table Plugin (Go-side)
// ─────────────────────────────────────────────────────────────

// ColumnAdder inserts generated Column elements under a table.
type ColumnAdder interface {
	Get(id string) (domain.Element, error)
	Children(pageID, parentID string) ([]domain.Element, error)
	AddColumns(ctx context.Context, tableID string, fields []string) ([]domain.Element, error)
}

// tablePlugin generates Column children for a bound Table when it is
// created, so a freshly dropped table shows its data without manual column
// setup.
type tablePlugin struct {
	elements  ColumnAdder
	resolver  *binding.Resolver
	describer binding.TableDescriber
}

// NewTablePlugin creates the Table element plugin. describer answers column
// lookups for managed bindings; resolver is used for everything else.
func NewTablePlugin(elements ColumnAdder, resolver *binding.Resolver, describer binding.TableDescriber) service.MCPCapablePlugin {
	return &tablePlugin{elements: elements, resolver: resolver, describer: describer}
}

func (p *tablePlugin) Kind() domain.ElementKind { return domain.KindTable }

func (p *tablePlugin) OnCreate(ctx context.Context, el domain.Element) error {
	if el.DataBinding == nil {
		return nil
	}
	if _, err := p.generate(ctx, el); err != nil {
		return fmt.Errorf("table plugin: OnCreate: %w", err)
	}
	return nil
}

// OnDelete has nothing to clean up: columns are children and go with the
// table.
func (p *tablePlugin) OnDelete(context.Context, domain.Element) error {
	return nil
}

// Columns returns the field names a table's binding yields.
func (p *tablePlugin) Columns(ctx context.Context, desc *domain.BindingDescriptor) ([]string, error) {
	if desc == nil {
		return nil, errors.New("table has no data binding")
	}
	if desc.Source == domain.SourceManaged {
		cfg, err := desc.ManagedConfig()
		if err != nil {
			return nil, err
		}
		if len(cfg.Columns) > 0 {
			return cfg.Columns, nil
		}
		if p.describer == nil {
			return nil, errors.New("no table describer configured")
		}
		return p.describer.TableColumns(ctx, cfg.Backend, cfg.Table)
	}
	if p.resolver == nil {
		return nil, errors.New("no binding resolver configured")
	}
	res := p.resolver.Resolve(ctx, desc)
	if res.Error != "" && !res.Fallback {
		return nil, errors.New(res.Error)
	}
	return binding.InferColumns(res.Data), nil
}

func (p *tablePlugin) generate(ctx context.Context, table domain.Element) ([]domain.Element, error) {
	fields, err := p.Columns(ctx, table.DataBinding)
	if err != nil {
		return nil, err
	}
	return p.elements.AddColumns(ctx, table.ID, fields)
}

// ── MCP tools ──────────────────────────────────────────────

func (p *tablePlugin) MCPTools() []service.MCPToolDef {
	return []service.MCPToolDef{
		{
			Name:        "table_generate_columns",
			Description: "Generate Column elements for a Table from the fields its data binding returns. Existing columns are kept.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"elementId": map[string]any{"type": "string", "description": "ID of the Table element"},
				},
				"required": []string{"elementId"},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				id, _ := params["elementId"].(string)
				if id == "" {
					return nil, errors.New("elementId is required")
				}
				table, err := p.elements.Get(id)
				if err != nil {
					return nil, err
				}
				if table.Kind() != domain.KindTable {
					return nil, fmt.Errorf("element %s is a %s, not a Table", id, table.Kind())
				}
				added, err := p.generate(ctx, table)
				if err != nil {
					return nil, err
				}
				cols, err := p.elements.Children(table.PageID, table.ID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"added": len(added), "columns": cols}, nil
			},
		},
	}
}

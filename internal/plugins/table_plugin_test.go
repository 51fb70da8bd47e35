package plugins_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"appbuilder/internal/binding"
	"appbuilder/internal/domain"
	"appbuilder/internal/plugins"
	"appbuilder/internal/service"
)

func setup(t *testing.T) (*service.ElementService, service.MCPCapablePlugin) {
	t.Helper()
	fixtures := binding.NewDemoFixtures()
	reg := service.NewPluginRegistry()
	svc := service.NewElementService(nil, nil, reg)
	t.Cleanup(svc.Close)
	p := plugins.NewTablePlugin(svc, binding.NewDefaultResolver(nil, nil, fixtures), binding.Describer(nil, fixtures))
	reg.Register(p)
	return svc, p
}

func fields(t *testing.T, svc *service.ElementService, table domain.Element) []string {
	t.Helper()
	cols, err := svc.Children(table.PageID, table.ID)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.StringProp("field")
	}
	return out
}

func TestTablePlugin_GeneratesColumnsOnCreate(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	static := &domain.BindingDescriptor{
		Type: domain.BindingCollection, Source: domain.SourceStatic,
		Config: map[string]any{"data": []any{
			map[string]any{"name": "Ada", "age": 36.0},
			map[string]any{"name": "Alan", "team": "bletchley"},
		}},
	}
	table, err := svc.Create(ctx, service.CreateInput{PageID: "pg", Tag: "Table", DataBinding: static})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"age", "name", "team"}, fields(t, svc, table)); diff != "" {
		t.Errorf("static columns:\n%s", diff)
	}

	managed := &domain.BindingDescriptor{
		Type: domain.BindingCollection, Source: domain.SourceManaged,
		Config: map[string]any{"backend": binding.FixtureBackend, "table": "products", "columns": []any{"title", "price"}},
	}
	projected, err := svc.Create(ctx, service.CreateInput{PageID: "pg", Tag: "Table", DataBinding: managed})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"title", "price"}, fields(t, svc, projected)); diff != "" {
		t.Errorf("projected columns:\n%s", diff)
	}

	plain, _ := svc.Create(ctx, service.CreateInput{PageID: "pg", Tag: "Table"})
	if got := fields(t, svc, plain); len(got) != 0 {
		t.Errorf("unbound table got columns %v", got)
	}
}

func TestTablePlugin_MCPTool(t *testing.T) {
	svc, p := setup(t)
	ctx := context.Background()

	tools := p.MCPTools()
	if len(tools) != 1 || tools[0].Name != "table_generate_columns" {
		t.Fatalf("tools = %+v", tools)
	}
	tool := tools[0]

	text, _ := svc.Create(ctx, service.CreateInput{PageID: "pg", Tag: "Text"})
	if _, err := tool.Handler(ctx, map[string]any{"elementId": text.ID}); err == nil {
		t.Error("expected error for non-table element")
	}
	if _, err := tool.Handler(ctx, map[string]any{}); err == nil {
		t.Error("expected error for missing elementId")
	}

	table, _ := svc.Create(ctx, service.CreateInput{PageID: "pg", Tag: "Table"})
	managed := &domain.BindingDescriptor{
		Type: domain.BindingCollection, Source: domain.SourceManaged,
		Config: map[string]any{"backend": binding.FixtureBackend, "table": "users"},
	}
	if _, err := svc.SetBinding(ctx, table.ID, managed); err != nil {
		t.Fatal(err)
	}
	out, err := tool.Handler(ctx, map[string]any{"elementId": table.ID})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.(map[string]any)["added"]; got != 5 {
		t.Errorf("added = %v", got)
	}
	again, _ := tool.Handler(ctx, map[string]any{"elementId": table.ID})
	if got := again.(map[string]any)["added"]; got != 0 {
		t.Errorf("second run added = %v", got)
	}
}

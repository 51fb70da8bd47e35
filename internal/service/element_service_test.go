package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"appbuilder/internal/domain"
	"appbuilder/internal/service"
	"appbuilder/internal/storage"
	"appbuilder/internal/syncproto"
)

type fixture struct {
	svc      *service.ElementService
	store    *storage.ElementStore
	projects *storage.ProjectStore
	out    *service.MockBroadcaster
	pageID string
}

func newFixture(t *testing.T, plugins *service.PluginRegistry) fixture {
	t.Helper()
	db, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	projects := storage.NewProjectStore(db)
	if err := projects.CreateProject(&domain.Project{ID: "p1", Name: "Demo"}); err != nil {
		t.Fatal(err)
	}
	if err := projects.CreatePage(&domain.Page{ID: "pg1", ProjectID: "p1", Name: "Home", Slug: "home"}); err != nil {
		t.Fatal(err)
	}
	store := storage.NewElementStore(db)
	out := &service.MockBroadcaster{}
	svc := service.NewElementService(store, out, plugins)
	t.Cleanup(svc.Close)
	return fixture{svc: svc, store: store, projects: projects, out: out, pageID: "pg1"}
}

func (f fixture) create(t *testing.T, parentID, tag string, props map[string]any) domain.Element {
	t.Helper()
	el, err := f.svc.Create(context.Background(), service.CreateInput{PageID: f.pageID, ParentID: parentID, Tag: tag, Props: props})
	if err != nil {
		t.Fatalf("create %s: %v", tag, err)
	}
	return el
}

func (f fixture) addPage(t *testing.T, id string) {
	t.Helper()
	if err := f.projects.CreatePage(&domain.Page{ID: id, ProjectID: "p1", Name: id, Slug: id}); err != nil {
		t.Fatal(err)
	}
}

func (f fixture) flush(t *testing.T) {
	t.Helper()
	if err := f.svc.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestElementService_CreateAppendsAndPersists(t *testing.T) {
	f := newFixture(t, nil)
	panel := f.create(t, "", "Panel", nil)
	a := f.create(t, panel.ID, "Text", map[string]any{"children": "a"})
	b := f.create(t, panel.ID, "Text", map[string]any{"children": "b"})

	if a.OrderNum != 0 || b.OrderNum != 1 {
		t.Errorf("order nums = %v, %v", a.OrderNum, b.OrderNum)
	}
	if a.Parent() != panel.ID {
		t.Errorf("parent = %q", a.Parent())
	}
	f.flush(t)

	got, err := f.store.GetElement(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StringProp("children") != "b" {
		t.Errorf("persisted props = %v", got.Props)
	}
	for _, typ := range f.out.Types() {
		if typ != syncproto.TypeUpdateElements {
			t.Errorf("unexpected envelope %s", typ)
		}
	}

	if _, err := f.svc.Create(context.Background(), service.CreateInput{PageID: f.pageID, ParentID: "ghost", Tag: "Text"}); !errors.Is(err, service.ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound for missing parent, got %v", err)
	}
	bad := &domain.BindingDescriptor{Type: domain.BindingCollection, Source: domain.SourceAPI, Config: map[string]any{}}
	if _, err := f.svc.Create(context.Background(), service.CreateInput{PageID: f.pageID, Tag: "Table", DataBinding: bad}); !errors.Is(err, domain.ErrInvalidBinding) {
		t.Errorf("expected ErrInvalidBinding, got %v", err)
	}
}

func TestElementService_PatchPropsClocksAndPersists(t *testing.T) {
	f := newFixture(t, nil)
	btn := f.create(t, "", "Button", map[string]any{"label": "Go", "variant": "primary"})

	if _, err := f.svc.PatchProps(context.Background(), btn.ID, map[string]any{"label": "Stop"}, true); err != nil {
		t.Fatal(err)
	}
	first, ok := f.out.Last().(syncproto.UpdateElementProps)
	if !ok || !first.Merge || first.Clock == 0 {
		t.Fatalf("envelope = %#v", f.out.Last())
	}
	el, _ := f.svc.PatchProps(context.Background(), btn.ID, map[string]any{"label": "Reset"}, false)
	second := f.out.Last().(syncproto.UpdateElementProps)
	if second.Clock <= first.Clock {
		t.Errorf("clock did not advance: %d then %d", first.Clock, second.Clock)
	}
	if diff := cmp.Diff(map[string]any{"label": "Reset"}, el.Props); diff != "" {
		t.Errorf("replace props:\n%s", diff)
	}
	f.flush(t)
	got, _ := f.store.GetElement(btn.ID)
	if diff := cmp.Diff(map[string]any{"label": "Reset"}, got.Props); diff != "" {
		t.Errorf("persisted props:\n%s", diff)
	}

	if _, err := f.svc.PatchProps(context.Background(), "ghost", nil, true); !errors.Is(err, service.ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound, got %v", err)
	}
}

func TestElementService_DeletePrunesAncestorReferences(t *testing.T) {
	f := newFixture(t, nil)
	tabs := f.create(t, "", "Tabs", map[string]any{"selectedKey": "two", "tabOrder": []any{"one", "two"}})
	f.create(t, tabs.ID, "Tab", map[string]any{"key": "one"})
	two := f.create(t, tabs.ID, "Tab", map[string]any{"key": "two"})
	before := len(f.out.Envelopes)

	ids, err := f.svc.Delete(context.Background(), two.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{two.ID}, ids); diff != "" {
		t.Errorf("deleted ids:\n%s", diff)
	}

	sent := f.out.Envelopes[before:]
	if len(sent) != 2 {
		t.Fatalf("expected prune + delete envelopes, got %v", f.out.Types()[before:])
	}
	prune, ok := sent[0].(syncproto.UpdateElementProps)
	if !ok || prune.ElementID != tabs.ID || prune.Merge {
		t.Fatalf("prune envelope = %#v", sent[0])
	}
	if diff := cmp.Diff(map[string]any{"tabOrder": []any{"one"}}, prune.Props); diff != "" {
		t.Errorf("pruned props:\n%s", diff)
	}
	if sent[1] != (syncproto.DeleteElement{ElementID: two.ID}) {
		t.Errorf("delete envelope = %#v", sent[1])
	}

	f.flush(t)
	if _, err := f.store.GetElement(two.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected row removed, got %v", err)
	}
	got, _ := f.store.GetElement(tabs.ID)
	if _, ok := got.Props["selectedKey"]; ok {
		t.Errorf("persisted selectedKey survived: %v", got.Props)
	}
}

func TestElementService_DeleteCascadesAndSoftDeletes(t *testing.T) {
	f := newFixture(t, nil)
	panel := f.create(t, "", "Panel", nil)
	inner := f.create(t, panel.ID, "Panel", nil)
	leaf := f.create(t, inner.ID, "Text", nil)
	keep := f.create(t, "", "Text", nil)

	ids, err := f.svc.Delete(context.Background(), panel.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{panel.ID, inner.ID, leaf.ID}, ids); diff != "" {
		t.Errorf("cascade:\n%s", diff)
	}
	if got, ok := f.out.Last().(syncproto.DeleteElements); !ok || len(got.ElementIDs) != 3 {
		t.Errorf("envelope = %#v", f.out.Last())
	}
	roots, _ := f.svc.Children(f.pageID, "")
	if len(roots) != 1 || roots[0].ID != keep.ID {
		t.Errorf("roots after delete = %v", roots)
	}

	f.flush(t)
	for _, id := range ids {
		got, err := f.store.GetElement(id)
		if err != nil {
			t.Fatalf("soft-deleted row %s missing: %v", id, err)
		}
		if !got.Deleted {
			t.Errorf("%s not flagged deleted", id)
		}
	}
}

func TestElementService_ReorderAndColumns(t *testing.T) {
	f := newFixture(t, nil)
	table := f.create(t, "", "Table", nil)
	f.create(t, table.ID, "Column", map[string]any{"field": "name"})

	added, err := f.svc.AddColumns(context.Background(), table.ID, []string{"name", "age", "", "age", "email"})
	if err != nil {
		t.Fatal(err)
	}
	fields := make([]string, len(added))
	for i, c := range added {
		fields[i] = c.StringProp("field")
	}
	if diff := cmp.Diff([]string{"age", "email"}, fields); diff != "" {
		t.Errorf("added columns:\n%s", diff)
	}
	env, ok := f.out.Last().(syncproto.AddColumnElements)
	if !ok || env.Payload.ParentID != table.ID || len(env.Payload.Elements) != 2 {
		t.Fatalf("envelope = %#v", f.out.Last())
	}

	cols, _ := f.svc.Children(f.pageID, table.ID)
	last := cols[len(cols)-1].ID
	if err := f.svc.Reorder(context.Background(), f.pageID, table.ID, []string{last}); err != nil {
		t.Fatal(err)
	}
	cols, _ = f.svc.Children(f.pageID, table.ID)
	order := make([]string, len(cols))
	for i, c := range cols {
		order[i] = c.StringProp("field")
	}
	if diff := cmp.Diff([]string{"email", "name", "age"}, order); diff != "" {
		t.Errorf("reordered:\n%s", diff)
	}
	if err := f.svc.Reorder(context.Background(), f.pageID, table.ID, []string{"ghost"}); !errors.Is(err, service.ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound, got %v", err)
	}
}

func TestElementService_ReplicaConverges(t *testing.T) {
	f := newFixture(t, nil)
	snap, err := f.svc.Snapshot(f.pageID)
	if err != nil {
		t.Fatal(err)
	}
	replica := syncproto.NewReplica(snap.Elements)
	start := len(f.out.Envelopes)

	ctx := context.Background()
	tree := f.create(t, "", "Tree", map[string]any{"expandedKeys": []any{}})
	item := f.create(t, tree.ID, "TreeItem", map[string]any{"key": "docs"})
	f.create(t, item.ID, "TreeItem", map[string]any{"key": "readme"})
	if _, err := f.svc.PatchProps(ctx, tree.ID, map[string]any{"expandedKeys": []any{"docs"}, "selectedKeys": []any{"readme"}}, true); err != nil {
		t.Fatal(err)
	}
	table := f.create(t, "", "Table", nil)
	if _, err := f.svc.AddColumns(ctx, table.ID, []string{"id"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Delete(ctx, item.ID, false); err != nil {
		t.Fatal(err)
	}

	for _, env := range f.out.Envelopes[start:] {
		replica.Apply(env)
	}
	want, _ := f.svc.Load(f.pageID)
	byID := cmpopts.SortSlices(func(a, b domain.Element) bool { return a.ID < b.ID })
	if diff := cmp.Diff(want, replica.Elements(), byID, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("replica diverged (-service +replica):\n%s", diff)
	}
	el, _ := replica.Element(tree.ID)
	if diff := cmp.Diff(map[string]any{"expandedKeys": []any{}, "selectedKeys": []any{}}, el.Props); diff != "" {
		t.Errorf("pruned tree props:\n%s", diff)
	}
}

type recordingPlugin struct {
	mu      sync.Mutex
	created []string
	deleted []string
}

func (p *recordingPlugin) Kind() domain.ElementKind { return domain.KindTable }

func (p *recordingPlugin) OnCreate(_ context.Context, el domain.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, el.ID)
	return nil
}

func (p *recordingPlugin) OnDelete(_ context.Context, el domain.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, el.ID)
	return errors.New("ignored")
}

func TestElementService_PluginHooks(t *testing.T) {
	plugin := &recordingPlugin{}
	reg := service.NewPluginRegistry()
	reg.Register(plugin)

	f := newFixture(t, reg)
	panel := f.create(t, "", "Panel", nil)
	table := f.create(t, panel.ID, "Table", nil)
	if _, err := f.svc.Delete(context.Background(), panel.ID, false); err != nil {
		t.Fatalf("plugin error must not fail delete: %v", err)
	}
	if diff := cmp.Diff([]string{table.ID}, plugin.created); diff != "" {
		t.Errorf("created:\n%s", diff)
	}
	if diff := cmp.Diff([]string{table.ID}, plugin.deleted); diff != "" {
		t.Errorf("deleted:\n%s", diff)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	reg.Register(&recordingPlugin{})
}

func TestElementService_ReplaceAndReload(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "", "Text", nil)

	next := []domain.Element{
		{ID: "x", Tag: "Panel", Props: map[string]any{}},
		{ID: "y", Tag: "Text", ParentID: domain.StringPtr("x"), Props: map[string]any{"children": "Hi"}},
	}
	if err := f.svc.Replace(context.Background(), f.pageID, next); err != nil {
		t.Fatal(err)
	}
	f.flush(t)

	got, err := f.svc.Reload(context.Background(), f.pageID)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(got))
	for i, el := range got {
		ids[i] = el.ID
	}
	sort.Strings(ids)
	if diff := cmp.Diff([]string{"x", "y"}, ids); diff != "" {
		t.Errorf("reloaded:\n%s", diff)
	}
	if el, err := f.svc.Get("y"); err != nil || el.PageID != f.pageID {
		t.Errorf("get y = %+v, %v", el, err)
	}
}

func TestElementService_DeleteSurvivesParentLoops(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	looped := []domain.Element{
		{ID: "self", Tag: "Panel", ParentID: domain.StringPtr("self"), Props: map[string]any{}},
		{ID: "a", Tag: "Panel", ParentID: domain.StringPtr("b"), Props: map[string]any{"selectedKey": "b"}},
		{ID: "b", Tag: "Panel", ParentID: domain.StringPtr("a"), Props: map[string]any{}},
	}
	if err := f.svc.Replace(ctx, f.pageID, looped); err != nil {
		t.Fatal(err)
	}

	deleted, err := f.svc.Delete(ctx, "a", false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, deleted, cmpopts.SortSlices(func(x, y string) bool { return x < y })); diff != "" {
		t.Errorf("2-cycle delete:\n%s", diff)
	}
	deleted, err = f.svc.Delete(ctx, "self", true)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"self"}, deleted); diff != "" {
		t.Errorf("self-parent delete:\n%s", diff)
	}
	f.flush(t)

	rows, err := f.store.ListElements(f.pageID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "self" || !rows[0].Deleted {
		t.Errorf("stored rows = %+v", rows)
	}
}

func TestElementService_ReplaceKeepsOtherPagesElements(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addPage(t, "pg2")
	f.addPage(t, "pg3")
	mine := f.create(t, "", "Text", map[string]any{"children": "original"})
	// pg3 is stored but never loaded
	if err := f.store.CreateElement(&domain.Element{ID: "elsewhere", PageID: "pg3", Tag: "Text", Props: map[string]any{}}); err != nil {
		t.Fatal(err)
	}

	incoming := []domain.Element{
		{ID: mine.ID, Tag: "Text", Props: map[string]any{"children": "hijacked"}},
		{ID: "elsewhere", Tag: "Text", Props: map[string]any{}},
		{ID: "fresh", Tag: "Text", Props: map[string]any{}},
		{ID: "fresh", Tag: "Panel", Props: map[string]any{}},
	}
	if err := f.svc.Replace(ctx, "pg2", incoming); err != nil {
		t.Fatal(err)
	}
	f.flush(t)

	got, err := f.svc.Get(mine.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PageID != f.pageID || got.StringProp("children") != "original" {
		t.Errorf("element moved or changed: page %s, props %v", got.PageID, got.Props)
	}
	pg2, err := f.svc.Load("pg2")
	if err != nil {
		t.Fatal(err)
	}
	if len(pg2) != 1 || pg2[0].ID != "fresh" || pg2[0].Tag != "Text" {
		t.Errorf("pg2 working copy = %+v", pg2)
	}
	rows, err := f.store.ListElements("pg2")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "fresh" {
		t.Errorf("pg2 rows = %+v", rows)
	}
	if e, err := f.store.GetElement("elsewhere"); err != nil || e.PageID != "pg3" {
		t.Errorf("stored element of pg3 = %+v, %v", e, err)
	}

	if _, err := f.svc.Delete(ctx, mine.ID, false); err != nil {
		t.Fatal(err)
	}
	if roots, _ := f.svc.Children(f.pageID, ""); len(roots) != 0 {
		t.Errorf("pg1 still lists %d roots", len(roots))
	}
}

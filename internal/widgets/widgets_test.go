package widgets_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"appbuilder/internal/binding"
	"appbuilder/internal/domain"
	"appbuilder/internal/render"
	"appbuilder/internal/state"
	"appbuilder/internal/tree"
	"appbuilder/internal/widgets"
)

type harness struct {
	ix       *tree.Index
	st       *state.Store
	d        *render.Dispatcher
	bindings map[string]binding.Result
	patches  []map[string]any
	replaced []domain.Element
}

func newHarness(t *testing.T, raw string) *harness {
	t.Helper()
	var els []domain.Element
	if err := json.Unmarshal([]byte(raw), &els); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return &harness{
		ix:       tree.New(els),
		st:       state.New(),
		d:        render.NewDispatcher(widgets.Default()),
		bindings: map[string]binding.Result{},
	}
}

func (h *harness) ctx() render.Context {
	return render.Context{
		Elements: h.ix,
		State:    h.st,
		Bindings: func(el domain.Element) binding.Result { return h.bindings[el.ID] },
		PatchProps: func(id string, props map[string]any) {
			h.patches = append(h.patches, props)
			h.ix.PatchProps(id, props, true)
		},
		ReplaceElements: func(els []domain.Element) {
			h.replaced = els
			h.ix.Replace(els)
		},
	}
}

func (h *harness) render(t *testing.T, id string) *render.Node {
	t.Helper()
	el, ok := h.ix.Get(id)
	if !ok {
		t.Fatalf("no element %s", id)
	}
	return h.d.Render(el, h.ctx())
}

func TestTable_ColumnsAndRows(t *testing.T) {
	h := newHarness(t, `[
		{"id":"tbl","tag":"Table","props":{},"dataBinding":{"type":"collection","source":"static","config":{"data":[]}}},
		{"id":"c2","tag":"Column","parent_id":"tbl","order_num":1,"props":{"field":"price","header":"Price"}},
		{"id":"c1","tag":"Column","parent_id":"tbl","order_num":0,"props":{"field":"title","header":"Title"}}
	]`)
	h.bindings["tbl"] = binding.Result{Data: []domain.Record{
		{"title": "Keyboard", "price": 49.0},
		{"title": "Mouse", "price": 19.5},
	}}

	html := h.render(t, "tbl").String()
	for _, want := range []string{
		`<th data-field="title" scope="col">Title</th><th data-field="price" scope="col">Price</th>`,
		`<td>Keyboard</td><td>49</td>`,
		`<td>Mouse</td><td>19.5</td>`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("missing %s in\n%s", want, html)
		}
	}
}

func TestTable_LoadingAndErrorAffordances(t *testing.T) {
	h := newHarness(t, `[{"id":"tbl","tag":"Table","props":{},"dataBinding":{"type":"collection","source":"api","config":{}}}]`)

	h.bindings["tbl"] = binding.Result{Loading: true, Data: []domain.Record{}}
	if html := h.render(t, "tbl").String(); !strings.Contains(html, `role="status"`) {
		t.Errorf("expected loading affordance:\n%s", html)
	}

	h.bindings["tbl"] = binding.Result{Error: "http 500: boom", Fallback: true, Data: []domain.Record{{"name": "cached"}}}
	html := h.render(t, "tbl").String()
	if !strings.Contains(html, `role="alert"`) || !strings.Contains(html, "<td>cached</td>") {
		t.Errorf("expected error alert and fallback rows:\n%s", html)
	}
}

func TestTabs_MissingPanelOmittedOnly(t *testing.T) {
	h := newHarness(t, `[
		{"id":"tabs","tag":"Tabs","props":{"selectedKey":"b"}},
		{"id":"ta","tag":"Tab","parent_id":"tabs","order_num":0,"props":{"tabId":"a","label":"A"}},
		{"id":"tb","tag":"Tab","parent_id":"tabs","order_num":1,"props":{"tabId":"b","label":"B"}},
		{"id":"pb","tag":"TabPanel","parent_id":"tabs","order_num":2,"props":{"tabId":"b"}},
		{"id":"txt","tag":"Text","parent_id":"pb","props":{"children":"inside b"}}
	]`)
	n := h.render(t, "tabs")
	if n == nil {
		t.Fatal("tabs rendered nothing")
	}
	strip := n.Children[0]
	if len(strip.Children) != 2 {
		t.Fatalf("expected two tabs, got %d", len(strip.Children))
	}
	if strip.Children[1].Attrs["aria-selected"] != "true" {
		t.Error("tab b should be selected")
	}
	panel := n.Find("pb")
	if panel == nil || panel.Attrs["hidden"] != "" {
		t.Fatalf("panel b should be visible: %+v", panel)
	}
	if panel.Find("txt") == nil {
		t.Error("panel content missing")
	}

	if err := widgets.Interact(mustGet(t, h, "tabs"), h.ctx(), "select", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if n := h.render(t, "tabs"); n.Find("pb").Attrs["hidden"] != "hidden" {
		t.Error("panel b should be hidden after selecting a")
	}
}

func TestTree_ExpandedKeys(t *testing.T) {
	h := newHarness(t, `[
		{"id":"tree","tag":"Tree","props":{"expandedKeys":["root"]}},
		{"id":"r","tag":"TreeItem","parent_id":"tree","props":{"key":"root","label":"Root"}},
		{"id":"c","tag":"TreeItem","parent_id":"r","props":{"key":"child","label":"Child"}},
		{"id":"g","tag":"TreeItem","parent_id":"c","props":{"key":"grand","label":"Grand"}}
	]`)
	n := h.render(t, "tree")
	if n.Find("c") == nil {
		t.Error("child of expanded root should render")
	}
	if n.Find("g") != nil {
		t.Error("grandchild of collapsed child should not render")
	}
	if got := n.Find("c").Attrs["aria-expanded"]; got != "false" {
		t.Errorf("child aria-expanded = %q", got)
	}

	if err := widgets.Interact(mustGet(t, h, "tree"), h.ctx(), "toggle", []string{"child"}); err != nil {
		t.Fatal(err)
	}
	if h.render(t, "tree").Find("g") == nil {
		t.Error("grandchild should render after expanding child")
	}
}

func TestTagGroup_RemoveGoesThroughReplace(t *testing.T) {
	h := newHarness(t, `[
		{"id":"grp","tag":"TagGroup","props":{"selectedKeys":["x","y"],"allowsRemoving":true}},
		{"id":"tx","tag":"Tag","parent_id":"grp","order_num":0,"props":{"key":"x","label":"X"}},
		{"id":"ty","tag":"Tag","parent_id":"grp","order_num":1,"props":{"key":"y","label":"Y"}}
	]`)
	group := mustGet(t, h, "grp")
	if err := widgets.Interact(group, h.ctx(), "remove", []string{"x"}); err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(h.replaced))
	for i, e := range h.replaced {
		ids[i] = e.ID
	}
	if diff := cmp.Diff([]string{"grp", "ty"}, ids); diff != "" {
		t.Errorf("replaced ids:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "y"}, group.StringsProp("selectedKeys")); diff != "" {
		t.Errorf("original props mutated:\n%s", diff)
	}
	if got := mustGet(t, h, "grp").StringsProp("selectedKeys"); !cmp.Equal(got, []string{"y"}) {
		t.Errorf("selection not pruned: %v", got)
	}
	n := h.render(t, "grp")
	if len(n.Children) != 1 || n.Children[0].Attrs["aria-selected"] != "true" {
		t.Errorf("unexpected group render %s", n)
	}
}

func TestSelect_ReadsStateKey(t *testing.T) {
	h := newHarness(t, `[{"id":"s","tag":"Select","props":{"stateKey":"color","options":["red",{"value":"g","label":"Green"}]}}]`)
	h.st.Set("color", "g")
	html := h.render(t, "s").String()
	if !strings.Contains(html, `<option selected="selected" value="g">Green</option>`) {
		t.Errorf("selected option missing:\n%s", html)
	}
}

func TestModal_FollowsState(t *testing.T) {
	h := newHarness(t, `[{"id":"m","tag":"Modal","props":{"title":"Hello"}}]`)
	if n := h.render(t, "m"); n != nil {
		t.Errorf("closed modal rendered %s", n)
	}
	h.st.Set(state.ModalKey("m"), true)
	if n := h.render(t, "m"); n == nil || n.Tag != "dialog" {
		t.Errorf("open modal: %v", n)
	}
}

func TestRender_IdempotentAndPure(t *testing.T) {
	h := newHarness(t, `[
		{"id":"p","tag":"Panel","props":{"style":{"backgroundColor":"red"}}},
		{"id":"l","tag":"ListBox","parent_id":"p","props":{"labelKey":"name"}}
	]`)
	h.bindings["l"] = binding.Result{Data: []domain.Record{{"name": "Ada"}, {"name": "Grace"}}}
	a, b := h.render(t, "p"), h.render(t, "p")
	if !cmp.Equal(a, b) {
		t.Errorf("renders differ:\n%s", cmp.Diff(a, b))
	}
	if a.Attrs["style"] != "background-color: red" {
		t.Errorf("style = %q", a.Attrs["style"])
	}
	if len(h.patches) != 0 {
		t.Error("rendering must not patch")
	}
}

func TestInteract_Unsupported(t *testing.T) {
	h := newHarness(t, `[{"id":"t","tag":"Text","props":{}}]`)
	if err := widgets.Interact(mustGet(t, h, "t"), h.ctx(), "remove", nil); !errors.Is(err, widgets.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func mustGet(t *testing.T, h *harness, id string) domain.Element {
	t.Helper()
	el, ok := h.ix.Get(id)
	if !ok {
		t.Fatalf("no element %s", id)
	}
	return el
}

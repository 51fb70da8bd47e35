package widgets

import (
	"appbuilder/internal/domain"
	"appbuilder/internal/render"
)

// ── Composite widgets ──────────────────────────────────────
// A container pairs itself with same-type leaves found among its children.
// A missing leaf drops only that pairing; the rest of the container renders.

// tabPair is a Tab with its TabPanel, either of which may be missing.
type tabPair struct {
	key   string
	tab   *domain.Element
	panel *domain.Element
}

// pairTabs matches panels to tabs by key (props.tabId / props.key), then
// leftover panels to leftover tabs by position. props.tabOrder, when set,
// orders the pairs.
func pairTabs(el domain.Element, ctx render.Context) []tabPair {
	if ctx.Elements == nil {
		return nil
	}
	tabs := ctx.Elements.ChildrenOfKind(el.ID, domain.KindTab)
	panels := ctx.Elements.ChildrenOfKind(el.ID, domain.KindTabPanel)

	pairs := make([]tabPair, len(tabs))
	byKey := make(map[string]int, len(tabs))
	for i := range tabs {
		pairs[i] = tabPair{key: key(tabs[i]), tab: &tabs[i]}
		byKey[pairs[i].key] = i
	}

	var loose []int
	for j := range panels {
		if i, ok := byKey[key(panels[j])]; ok && pairs[i].panel == nil {
			pairs[i].panel = &panels[j]
			continue
		}
		loose = append(loose, j)
	}
	next := 0
	for i := range pairs {
		if pairs[i].panel != nil || next >= len(loose) {
			continue
		}
		pairs[i].panel = &panels[loose[next]]
		next++
	}
	for ; next < len(loose); next++ {
		p := &panels[loose[next]]
		pairs = append(pairs, tabPair{key: key(*p), panel: p})
	}

	if order := el.StringsProp("tabOrder"); len(order) > 0 {
		rank := make(map[string]int, len(order))
		for i, k := range order {
			rank[k] = i
		}
		ordered := make([]tabPair, 0, len(pairs))
		for _, k := range order {
			for _, p := range pairs {
				if p.key == k {
					ordered = append(ordered, p)
				}
			}
		}
		for _, p := range pairs {
			if _, ok := rank[p.key]; !ok {
				ordered = append(ordered, p)
			}
		}
		pairs = ordered
	}
	return pairs
}

// Tabs renders a tab strip and the panel of the selected tab. The selected
// key is props.selectedKey, else the first tab.
func Tabs(el domain.Element, ctx render.Context) *render.Node {
	n := base("div", el).Set("class", joinClass("tabs", el.StringProp("className")))
	pairs := pairTabs(el, ctx)

	selected := el.StringProp("selectedKey")
	if selected == "" && len(pairs) > 0 {
		selected = pairs[0].key
	}

	strip := render.El("div").Set("role", "tablist")
	var panels []*render.Node
	for _, p := range pairs {
		if p.tab != nil {
			if t := ctx.Render(*p.tab, ctx); t != nil {
				t.Set("aria-selected", boolAttr(p.key == selected))
				t.Set("data-key", p.key)
				strip.Append(t)
			}
		}
		if p.panel != nil {
			if pn := ctx.Render(*p.panel, ctx); pn != nil {
				pn.Set("data-key", p.key)
				if p.key != selected {
					pn.Set("hidden", "hidden")
				}
				panels = append(panels, pn)
			}
		}
	}
	n.Append(strip)
	n.Append(panels...)
	if ctx.Elements == nil {
		return n
	}
	for _, c := range ctx.Elements.Children(el.ID) {
		if k := c.Kind(); k == domain.KindTab || k == domain.KindTabPanel {
			continue
		}
		n.Append(ctx.Render(c, ctx))
	}
	return n
}

func Tab(el domain.Element, ctx render.Context) *render.Node {
	n := base("button", el).Set("role", "tab").Set("type", "button").WithText(label(el, "label", "title", "children"))
	if el.BoolProp("disabled") {
		n.Set("disabled", "disabled")
	}
	return n.Append(ctx.Children(el)...)
}

func TabPanel(el domain.Element, ctx render.Context) *render.Node {
	return base("div", el).Set("role", "tabpanel").Append(ctx.Children(el)...)
}

// Tree renders its TreeItem children recursively. Items whose key is in
// props.expandedKeys show their own items.
func Tree(el domain.Element, ctx render.Context) *render.Node {
	n := base("ul", el).Set("role", "tree")
	expanded := set(el.StringsProp("expandedKeys"))
	selected := set(el.StringsProp("selectedKeys"))
	if ctx.Elements == nil {
		return n
	}
	for _, c := range ctx.Elements.Children(el.ID) {
		if c.Kind() == domain.KindTreeItem {
			n.Append(treeItem(c, ctx, expanded, selected, 1))
		} else {
			n.Append(ctx.Render(c, ctx))
		}
	}
	return n
}

func treeItem(el domain.Element, ctx render.Context, expanded, selected map[string]bool, level int) *render.Node {
	if ctx.State != nil && !ctx.State.Visible(el.ID) {
		return nil
	}
	li := ctx.Render(el, ctx)
	if li == nil {
		return nil
	}
	// the dispatcher rendered every child; rebuild with the tree's view
	li.Children = nil
	k := key(el)
	li.Set("aria-level", itoa(level))
	li.Set("data-key", k)
	if selected[k] {
		li.Set("aria-selected", "true")
	}

	var items []domain.Element
	for _, c := range ctx.Elements.Children(el.ID) {
		if c.Kind() == domain.KindTreeItem {
			items = append(items, c)
		} else {
			li.Append(ctx.Render(c, ctx))
		}
	}
	if len(items) == 0 {
		return li
	}
	li.Set("aria-expanded", boolAttr(expanded[k]))
	if !expanded[k] {
		return li
	}
	group := render.El("ul").Set("role", "group")
	for _, c := range items {
		group.Append(treeItem(c, ctx, expanded, selected, level+1))
	}
	return li.Append(group)
}

// TreeItem outside a Tree renders with all of its children.
func TreeItem(el domain.Element, ctx render.Context) *render.Node {
	n := base("li", el).Set("role", "treeitem").WithText(label(el, "label", "title", "children"))
	return n.Append(ctx.Children(el)...)
}

// TagGroup renders its Tag children; props.selectedKeys marks selection.
func TagGroup(el domain.Element, ctx render.Context) *render.Node {
	n := base("div", el).Set("role", "listbox").Set("aria-multiselectable", "true")
	if l := el.StringProp("label"); l != "" {
		n.Set("aria-label", l)
	}
	selected := set(el.StringsProp("selectedKeys"))
	removable := el.BoolProp("allowsRemoving")
	if ctx.Elements == nil {
		return n
	}
	for _, c := range ctx.Elements.Children(el.ID) {
		t := ctx.Render(c, ctx)
		if t == nil {
			continue
		}
		if c.Kind() == domain.KindTag {
			k := key(c)
			t.Set("data-key", k)
			t.Set("aria-selected", boolAttr(selected[k]))
			if removable {
				t.Append(render.El("button").Set("type", "button").Set("aria-label", "Remove").Set("data-remove", k).WithText("×"))
			}
		}
		n.Append(t)
	}
	return n
}

func Tag(el domain.Element, ctx render.Context) *render.Node {
	return base("span", el).Set("role", "option").WithText(label(el, "label", "children")).Append(ctx.Children(el)...)
}

func set(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func joinClass(a, b string) string {
	if b == "" {
		return a
	}
	return a + " " + b
}

func itoa(i int) string {
	return cell(float64(i))
}

package widgets

import (
	"errors"
	"fmt"

	"appbuilder/internal/domain"
	"appbuilder/internal/render"
)

// ── Interactions ───────────────────────────────────────────
// Widget gestures (tab switch, expand, select, remove, reorder) never touch
// element props directly. They are turned into prop patches or a collection
// replace through the render context callbacks.

// ErrUnsupported is returned for a gesture the element kind does not handle.
var ErrUnsupported = errors.New("unsupported interaction")

// Interact applies gesture op with keys to el.
func Interact(el domain.Element, ctx render.Context, op string, keys []string) error {
	kind := el.Kind()
	switch {
	case op == "select" && (kind == domain.KindTabs || kind == domain.KindSelect):
		if len(keys) != 1 {
			return fmt.Errorf("select on %s: want one key, got %d", kind, len(keys))
		}
		return patch(ctx, el.ID, map[string]any{"selectedKey": keys[0]})

	case op == "select" && (kind == domain.KindTree || kind == domain.KindTagGroup || kind == domain.KindListBox):
		if el.StringProp("selectionMode") == "single" && len(keys) > 1 {
			keys = keys[len(keys)-1:]
		}
		return patch(ctx, el.ID, map[string]any{"selectedKeys": toAny(keys)})

	case op == "toggle" && kind == domain.KindTree:
		expanded := el.StringsProp("expandedKeys")
		for _, k := range keys {
			expanded = toggle(expanded, k)
		}
		return patch(ctx, el.ID, map[string]any{"expandedKeys": toAny(expanded)})

	case op == "reorder" && kind == domain.KindTabs:
		return patch(ctx, el.ID, map[string]any{"tabOrder": toAny(keys)})

	case op == "remove" && kind == domain.KindTagGroup:
		return removeTags(el, ctx, keys)
	}
	return fmt.Errorf("%s on %s: %w", op, kind, ErrUnsupported)
}

func patch(ctx render.Context, id string, props map[string]any) error {
	if ctx.PatchProps == nil {
		return fmt.Errorf("patch %s: no patch callback in this context", id)
	}
	ctx.PatchProps(id, props)
	return nil
}

// removeTags drops the keyed Tag children of group, with their subtrees,
// and prunes them from the group's selection.
func removeTags(group domain.Element, ctx render.Context, keys []string) error {
	if ctx.ReplaceElements == nil || ctx.Elements == nil {
		return fmt.Errorf("remove tags: no replace callback in this context")
	}
	gone := set(keys)
	drop := map[string]bool{}
	for _, c := range ctx.Elements.ChildrenOfKind(group.ID, domain.KindTag) {
		if !gone[key(c)] {
			continue
		}
		drop[c.ID] = true
		for _, id := range ctx.Elements.DescendantIDs(c.ID) {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}

	all := ctx.Elements.Elements()
	next := make([]domain.Element, 0, len(all)-len(drop))
	for _, e := range all {
		if drop[e.ID] {
			continue
		}
		if e.ID == group.ID {
			e = e.Clone()
			kept := []any{}
			for _, k := range e.StringsProp("selectedKeys") {
				if !gone[k] {
					kept = append(kept, k)
				}
			}
			if _, ok := e.Props["selectedKeys"]; ok {
				e.Props["selectedKeys"] = kept
			}
		}
		next = append(next, e)
	}
	ctx.ReplaceElements(next)
	return nil
}

func toggle(list []string, k string) []string {
	for i, v := range list {
		if v == k {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return append(list, k)
}

func toAny(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

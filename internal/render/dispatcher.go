package render

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sort"

	"appbuilder/internal/binding"
	"appbuilder/internal/domain"
	"appbuilder/internal/interp"
)

// ── Context ────────────────────────────────────────────────

// ElementView is the read-only tree a renderer walks. *tree.Index
// implements it.
type ElementView interface {
	Get(id string) (domain.Element, bool)
	Roots() []domain.Element
	Children(parentID string) []domain.Element
	ChildrenOfKind(parentID string, kind domain.ElementKind) []domain.Element
	DescendantIDs(id string) []string
	Elements() []domain.Element
}

// StateView is the read-only session state. *state.Store implements it.
type StateView interface {
	Get(key string) (any, bool)
	Visible(id string) bool
	ModalOpen(id string) bool
}

// Firer runs declared events. *interp.Interpreter implements it.
type Firer interface {
	Fire(ctx context.Context, f interp.Firing) interp.Result
}

// BindingLookup returns the current data for an element's binding and
// schedules resolution when it is not settled yet.
type BindingLookup func(el domain.Element) binding.Result

// Context is shared by every renderer of one pass. It is passed by value and
// treated as immutable. Renderers mutate elements only through PatchProps
// and ReplaceElements.
type Context struct {
	Elements        ElementView
	PatchProps      func(id string, props map[string]any)
	ReplaceElements func(elements []domain.Element)
	Events          Firer
	Bindings        BindingLookup
	State           StateView
	ProjectID       string
	PageID          string

	// Render is the dispatcher entry point for recursive children.
	Render func(el domain.Element, ctx Context) *Node

	path []string // ids being rendered, outermost first
}

// Children renders the derived children of el in order.
func (c Context) Children(el domain.Element) []*Node {
	if c.Elements == nil || c.Render == nil {
		return nil
	}
	kids := c.Elements.Children(el.ID)
	out := make([]*Node, 0, len(kids))
	for _, k := range kids {
		if n := c.Render(k, c); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Binding returns the data of el's binding, or an empty result when el has
// none.
func (c Context) Binding(el domain.Element) binding.Result {
	if el.DataBinding == nil || c.Bindings == nil {
		return binding.Result{Data: []domain.Record{}}
	}
	return c.Bindings(el)
}

// StateString reads a state key as a display string.
func (c Context) StateString(key string) string {
	if c.State == nil || key == "" {
		return ""
	}
	v, ok := c.State.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ── Dispatcher ─────────────────────────────────────────────

// Renderer renders one element kind.
type Renderer func(el domain.Element, ctx Context) *Node

// Registry maps element kinds to renderers.
type Registry map[domain.ElementKind]Renderer

// Dispatcher resolves an element's kind and delegates to its renderer.
type Dispatcher struct {
	registry Registry
}

// NewDispatcher creates a Dispatcher over reg.
func NewDispatcher(reg Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// Render renders el. Unknown kinds, deleted or hidden elements render nothing,
// and a panicking renderer is logged and treated as rendering nothing.
func (d *Dispatcher) Render(el domain.Element, ctx Context) (n *Node) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("render: %s (%s) panicked: %v", el.ID, el.Tag, r)
			n = nil
		}
	}()

	if el.Deleted {
		return nil
	}
	kind := el.Kind()
	r, ok := d.registry[kind]
	if !ok || r == nil {
		return nil
	}
	if ctx.State != nil && !ctx.State.Visible(el.ID) {
		return nil
	}
	if slices.Contains(ctx.path, el.ID) {
		log.Printf("render: %s is its own ancestor, skipped", el.ID)
		return nil
	}
	ctx.path = append(ctx.path[:len(ctx.path):len(ctx.path)], el.ID)
	ctx.Render = d.Render

	n = r(el, ctx)
	if n == nil {
		return nil
	}
	if n.ID == "" {
		n.ID = el.ID
	}
	if n.Kind == "" {
		n.Kind = kind.String()
	}
	if n.Events == nil {
		n.Events = eventTypes(el)
	}
	return n
}

// RenderPage renders every root of the view under a single page node.
func (d *Dispatcher) RenderPage(ctx Context) *Node {
	ctx.Render = d.Render
	page := &Node{Kind: "Page", ID: ctx.PageID, Tag: "main"}
	if ctx.Elements == nil {
		return page
	}
	for _, root := range ctx.Elements.Roots() {
		page.Append(d.Render(root, ctx))
	}
	return page
}

// eventTypes lists the enabled declared event types of el, sorted and unique.
func eventTypes(el domain.Element) []string {
	seen := map[string]bool{}
	var out []string
	for _, ev := range el.Events() {
		if !ev.IsEnabled() || seen[ev.EventType] {
			continue
		}
		seen[ev.EventType] = true
		out = append(out, ev.EventType)
	}
	sort.Strings(out)
	return out
}

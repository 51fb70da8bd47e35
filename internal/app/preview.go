package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"appbuilder/internal/binding"
	"appbuilder/internal/domain"
	"appbuilder/internal/interp"
	"appbuilder/internal/render"
	"appbuilder/internal/state"
	"appbuilder/internal/syncproto"
	"appbuilder/internal/tree"
	"appbuilder/internal/widgets"
)

// ─────────────────────────────────────────────────────────────
// Preview — one rendering context for one page
// ─────────────────────────────────────────────────────────────

// Preview renders a page from its own replica of the element collection.
// Envelopes from the builder arrive on a channel; element mutations made by
// the preview itself (update_props actions, widget gestures) are applied to
// the replica and echoed back to the builder on the same channel.
type Preview struct {
	pageID    string
	projectID string

	replica    *syncproto.Replica
	tracker    *binding.Tracker
	store      *state.Store
	host       *interp.RecordingHost
	interp     *interp.Interpreter
	dispatcher *render.Dispatcher

	ch     syncproto.Channel
	policy *syncproto.OriginPolicy

	mu      sync.Mutex
	version uint64
	waiters []chan struct{}
}

// PreviewOptions configures a Preview.
type PreviewOptions struct {
	PageID    string
	ProjectID string
	Elements  []domain.Element
	Resolver  *binding.Resolver
	Channel   syncproto.Channel       // to the builder; nil for a detached preview
	Policy    *syncproto.OriginPolicy // origins accepted on Channel
	Interp    []interp.Option
}

func NewPreview(opts PreviewOptions) *Preview {
	p := &Preview{
		pageID:     opts.PageID,
		projectID:  opts.ProjectID,
		replica:    syncproto.NewReplica(opts.Elements),
		store:      state.New(),
		host:       interp.NewRecordingHost("/" + opts.PageID),
		dispatcher: render.NewDispatcher(widgets.Default()),
		ch:         opts.Channel,
		policy:     opts.Policy,
	}
	p.tracker = binding.NewTracker(opts.Resolver)
	p.tracker.OnChange(func(string, binding.Result) { p.bump() })
	p.store.OnChange(func(string, any) { p.bump() })
	p.interp = interp.New(p.store, p.host, opts.Interp...)
	return p
}

// Run applies envelopes from the builder until the channel closes or ctx
// ends.
func (p *Preview) Run(ctx context.Context) {
	if p.ch == nil {
		return
	}
	syncproto.Pump(ctx, p.ch, p.policy, p.Apply)
}

// Apply applies one envelope to the replica. Bindings of removed elements
// are dropped.
func (p *Preview) Apply(env syncproto.Envelope) {
	if !p.replica.Apply(env) {
		return
	}
	switch e := env.(type) {
	case syncproto.DeleteElement:
		p.tracker.Forget(e.ElementID)
	case syncproto.DeleteElements:
		for _, id := range e.ElementIDs {
			p.tracker.Forget(id)
		}
	case syncproto.UpdateElements:
		live := make(map[string]bool, len(e.Elements))
		for _, el := range e.Elements {
			live[el.ID] = true
		}
		for _, id := range p.tracker.Bound() {
			if !live[id] {
				p.tracker.Forget(id)
			}
		}
	}
	p.bump()
}

// ── change notification ────────────────────────────────────

func (p *Preview) bump() {
	p.mu.Lock()
	p.version++
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Version increases on every replica, state or binding change.
func (p *Preview) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// Changed returns a channel closed after the next change.
func (p *Preview) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := make(chan struct{})
	p.waiters = append(p.waiters, w)
	return w
}

// ── rendering ──────────────────────────────────────────────

func (p *Preview) context(ix *tree.Index) render.Context {
	ctx := context.Background()
	return render.Context{
		Elements:        ix,
		PatchProps:      func(id string, props map[string]any) { p.patch(ctx, id, props) },
		ReplaceElements: func(elements []domain.Element) { p.replace(ctx, elements) },
		Events:          p.interp,
		Bindings: func(el domain.Element) binding.Result {
			return p.tracker.Bind(el.ID, el.DataBinding)
		},
		State:     p.store,
		ProjectID: p.projectID,
		PageID:    p.pageID,
	}
}

// Render renders the page from a snapshot of the replica.
func (p *Preview) Render() *render.Node {
	ix := tree.New(p.replica.Elements())
	return p.dispatcher.RenderPage(p.context(ix))
}

// HTML renders the page with the theme style block in front of it.
func (p *Preview) HTML() string {
	doc := render.El("div").Set("class", "appbuilder-preview")
	if style := p.replica.Style(); style != "" {
		doc.Append(render.El("style").WithText(style))
	}
	doc.Append(p.Render())
	return doc.String()
}

// Style returns the current theme style block.
func (p *Preview) Style() string { return p.replica.Style() }

// Elements returns the replica's elements.
func (p *Preview) Elements() []domain.Element { return p.replica.Elements() }

// ── events and gestures ────────────────────────────────────

// Fire delivers eventType to an element and runs its matching actions.
func (p *Preview) Fire(ctx context.Context, elementID, eventType string, payload map[string]any) (interp.Result, error) {
	el, ok := p.replica.Element(elementID)
	if !ok {
		return interp.Result{}, fmt.Errorf("fire %s: element %s not found", eventType, elementID)
	}
	return p.interp.Fire(ctx, interp.Firing{
		EventType: eventType,
		Event:     &interp.EventState{Payload: payload},
		Element:   &el,
		PageID:    p.pageID,
		ProjectID: p.projectID,
		Patch: func(id string, props map[string]any) error {
			if _, ok := p.replica.Element(id); !ok {
				return fmt.Errorf("update props: element %s not found", id)
			}
			p.patch(ctx, id, props)
			return nil
		},
	}), nil
}

// Interact applies a widget gesture (select, toggle, reorder, remove).
func (p *Preview) Interact(elementID, op string, keys []string) error {
	el, ok := p.replica.Element(elementID)
	if !ok {
		return fmt.Errorf("%s: element %s not found", op, elementID)
	}
	ix := tree.New(p.replica.Elements())
	return widgets.Interact(el, p.context(ix), op, keys)
}

func (p *Preview) patch(ctx context.Context, id string, props map[string]any) {
	p.Apply(syncproto.UpdateElementProps{ElementID: id, Props: props, Merge: true})
	p.echo(ctx, syncproto.UpdateElementProps{ElementID: id, Props: props, Merge: true})
}

func (p *Preview) replace(ctx context.Context, elements []domain.Element) {
	p.Apply(syncproto.UpdateElements{Elements: elements})
	p.echo(ctx, syncproto.UpdateElements{Elements: elements})
}

func (p *Preview) echo(ctx context.Context, env syncproto.Envelope) {
	if p.ch == nil {
		return
	}
	if err := p.ch.Send(ctx, env); err != nil {
		log.Printf("preview %s: echo %s: %v", p.pageID, env.Type(), err)
	}
}

// ── accessors ──────────────────────────────────────────────

func (p *Preview) PageID() string { return p.pageID }
func (p *Preview) State() *state.Store { return p.store }
func (p *Preview) Host() *interp.RecordingHost { return p.host }
func (p *Preview) Tracker() *binding.Tracker { return p.tracker }

// Settle waits until no binding resolution is in flight.
func (p *Preview) Settle() { p.tracker.Wait() }

// Close stops binding resolution and closes the channel.
func (p *Preview) Close() {
	p.tracker.Close()
	if p.ch != nil {
		_ = p.ch.Close()
	}
}

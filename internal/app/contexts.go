package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"appbuilder/internal/binding"
	"appbuilder/internal/interp"
	"appbuilder/internal/service"
	"appbuilder/internal/syncproto"
)

// ─────────────────────────────────────────────────────────────
// Contexts — the rendering contexts attached to each page
// ─────────────────────────────────────────────────────────────

// pageChannel is everything connected to one page: the websocket hub for
// external previews and the in-process preview with the builder's end of
// its pipe.
type pageChannel struct {
	hub        *syncproto.Hub
	preview    *Preview
	builderEnd *syncproto.PipeEnd
	cancel     context.CancelFunc
}

// ContextsOptions configures Contexts.
type ContextsOptions struct {
	Elements       *service.ElementService
	Theme          *service.ThemeService
	Resolver       *binding.Resolver
	BuilderOrigin  string
	PreviewOrigin  string
	AllowedOrigins []string
	Interp         []interp.Option
}

// Contexts owns the page channels. It is the broadcaster services publish
// to: element envelopes reach only the page they belong to, theme envelopes
// reach every page. Envelopes coming back from previews are applied through
// the builder.
type Contexts struct {
	opts    ContextsOptions
	builder *Builder

	mu     sync.Mutex
	pages  map[string]*pageChannel
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

var errContextsClosed = errors.New("rendering contexts closed")

func NewContexts(opts ContextsOptions) *Contexts {
	ctx, cancel := context.WithCancel(context.Background())
	return &Contexts{
		opts:    opts,
		builder: &Builder{elements: opts.Elements},
		pages:   make(map[string]*pageChannel),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetElements attaches the element service once it exists; it broadcasts
// through Contexts, so the two are built in two steps.
func (c *Contexts) SetElements(elements *service.ElementService) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Elements = elements
	c.builder.elements = elements
}

// Send delivers env to every open page.
func (c *Contexts) Send(ctx context.Context, env syncproto.Envelope) error {
	for _, pc := range c.snapshot() {
		c.deliver(ctx, pc, env)
	}
	return nil
}

// SendPage delivers env to the contexts of one page. Pages nobody has
// opened are skipped.
func (c *Contexts) SendPage(ctx context.Context, pageID string, env syncproto.Envelope) error {
	c.mu.Lock()
	pc := c.pages[pageID]
	c.mu.Unlock()
	if pc != nil {
		c.deliver(ctx, pc, env)
	}
	return nil
}

func (c *Contexts) deliver(ctx context.Context, pc *pageChannel, env syncproto.Envelope) {
	if err := pc.hub.Send(ctx, env); err != nil && !errors.Is(err, syncproto.ErrClosed) {
		log.Printf("contexts: hub send %s: %v", env.Type(), err)
	}
	if err := pc.builderEnd.Send(ctx, env); err != nil && !errors.Is(err, syncproto.ErrClosed) {
		log.Printf("contexts: preview send %s: %v", env.Type(), err)
	}
}

func (c *Contexts) snapshot() []*pageChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*pageChannel, 0, len(c.pages))
	for _, pc := range c.pages {
		out = append(out, pc)
	}
	return out
}

// Preview returns the in-process preview of a page, opening the page
// channel on first use.
func (c *Contexts) Preview(pageID, projectID string) (*Preview, error) {
	pc, err := c.open(pageID, projectID)
	if err != nil {
		return nil, err
	}
	return pc.preview, nil
}

// Hub returns the websocket hub of a page, opening the page channel on
// first use.
func (c *Contexts) Hub(pageID, projectID string) (*syncproto.Hub, error) {
	pc, err := c.open(pageID, projectID)
	if err != nil {
		return nil, err
	}
	return pc.hub, nil
}

// Open lists the ids of pages with an open channel.
func (c *Contexts) Open() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pages))
	for id := range c.pages {
		ids = append(ids, id)
	}
	return ids
}

func (c *Contexts) open(pageID, projectID string) (*pageChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errContextsClosed
	}
	if pc, ok := c.pages[pageID]; ok {
		return pc, nil
	}
	if c.opts.Elements == nil {
		return nil, fmt.Errorf("open page %s: no element service", pageID)
	}

	snap, err := c.opts.Elements.Snapshot(pageID)
	if err != nil {
		return nil, fmt.Errorf("open page %s: %w", pageID, err)
	}
	var theme []syncproto.Envelope
	if c.opts.Theme != nil {
		theme = c.opts.Theme.Snapshot()
	}

	builderEnd, previewEnd := syncproto.NewPipe(c.opts.BuilderOrigin, c.opts.PreviewOrigin, 256)
	preview := NewPreview(PreviewOptions{
		PageID:    pageID,
		ProjectID: projectID,
		Elements:  snap.Elements,
		Resolver:  c.opts.Resolver,
		Channel:   previewEnd,
		Policy:    syncproto.NewOriginPolicy(c.opts.BuilderOrigin),
		Interp:    c.opts.Interp,
	})
	for _, env := range theme {
		preview.Apply(env)
	}

	hubPolicy := syncproto.NewOriginPolicy(c.opts.AllowedOrigins...)
	hub := syncproto.NewHub(hubPolicy)
	hub.OnConnect(func(p *syncproto.Peer) {
		current, err := c.opts.Elements.Snapshot(pageID)
		if err != nil {
			log.Printf("contexts: snapshot %s: %v", pageID, err)
			return
		}
		_ = p.Send(c.ctx, current)
		for _, env := range c.themeSnapshot() {
			_ = p.Send(c.ctx, env)
		}
		log.Printf("contexts: page %s has %d rendering peers", pageID, hub.Peers())
	})

	ctx, cancel := context.WithCancel(c.ctx)
	pc := &pageChannel{hub: hub, preview: preview, builderEnd: builderEnd, cancel: cancel}
	c.pages[pageID] = pc

	go preview.Run(ctx)
	go syncproto.Pump(ctx, builderEnd, syncproto.NewOriginPolicy(c.opts.PreviewOrigin), func(env syncproto.Envelope) {
		c.builder.Apply(ctx, pageID, env)
	})
	go syncproto.Pump(ctx, hub, hubPolicy, func(env syncproto.Envelope) {
		c.builder.Apply(ctx, pageID, env)
	})
	log.Printf("contexts: opened page %s", pageID)
	return pc, nil
}

func (c *Contexts) themeSnapshot() []syncproto.Envelope {
	if c.opts.Theme == nil {
		return nil
	}
	return c.opts.Theme.Snapshot()
}

// ClosePage tears down one page channel.
func (c *Contexts) ClosePage(pageID string) {
	c.mu.Lock()
	pc, ok := c.pages[pageID]
	delete(c.pages, pageID)
	c.mu.Unlock()
	if ok {
		c.shutdown(pc)
	}
}

// Close tears down every page channel.
func (c *Contexts) Close() {
	c.mu.Lock()
	c.closed = true
	pages := c.pages
	c.pages = make(map[string]*pageChannel)
	c.mu.Unlock()
	for _, pc := range pages {
		c.shutdown(pc)
	}
	c.cancel()
}

func (c *Contexts) shutdown(pc *pageChannel) {
	pc.cancel()
	_ = pc.hub.Close()
	_ = pc.builderEnd.Close()
	pc.preview.Close()
}

// ── Builder ────────────────────────────────────────────────

// Builder is the authoring side of the protocol. It applies envelopes sent
// back by rendering contexts to the element service, which then publishes
// the authoritative result to every context of the page.
type Builder struct {
	elements *service.ElementService
}

// Apply handles one envelope from a rendering context of pageID. Patches and
// deletes naming elements of other pages are ignored.
func (b *Builder) Apply(ctx context.Context, pageID string, env syncproto.Envelope) {
	if b.elements == nil {
		return
	}
	var err error
	switch e := env.(type) {
	case syncproto.UpdateElementProps:
		if b.owns(pageID, e.ElementID) {
			_, err = b.elements.PatchProps(ctx, e.ElementID, e.Props, e.Merge)
		}
	case syncproto.UpdateElements:
		err = b.elements.Replace(ctx, pageID, e.Elements)
	case syncproto.DeleteElement:
		if b.owns(pageID, e.ElementID) {
			_, err = b.elements.Delete(ctx, e.ElementID, false)
		}
	case syncproto.DeleteElements:
		for _, id := range e.ElementIDs {
			if !b.owns(pageID, id) {
				continue
			}
			if _, derr := b.elements.Delete(ctx, id, false); derr != nil && !errors.Is(derr, service.ErrElementNotFound) {
				err = derr
			}
		}
	default:
		log.Printf("builder: ignoring %s from page %s", env.Type(), pageID)
		return
	}
	if err != nil {
		log.Printf("builder: apply %s from page %s: %v", env.Type(), pageID, err)
	}
}

func (b *Builder) owns(pageID, elementID string) bool {
	el, err := b.elements.Get(elementID)
	if err != nil {
		return false
	}
	if el.PageID != pageID {
		log.Printf("builder: page %s sent an edit for %s of page %s, ignored", pageID, elementID, el.PageID)
		return false
	}
	return true
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"appbuilder/internal/domain"
	"appbuilder/internal/storage"
	"appbuilder/internal/syncproto"
	"appbuilder/internal/tree"
)

// ─────────────────────────────────────────────────────────────
// Element Service — authoring-side element mutations
// ─────────────────────────────────────────────────────────────

// ErrElementNotFound is returned for ids not present on any loaded page.
var ErrElementNotFound = errors.New("element not found")

// referenceProps are the container props that name child elements.
var referenceProps = []string{"selectedKey", "selectedKeys", "expandedKeys", "tabOrder"}

// ElementService owns the working copy of each page's elements. Every
// mutation is applied to the working copy, broadcast to rendering contexts
// as an envelope, and mirrored to the store in the background; store errors
// are logged, never returned.
type ElementService struct {
	store   domain.ElementStore
	out     Broadcaster
	plugins *PluginRegistry

	mu     sync.Mutex
	pages  map[string]*tree.Index
	owner  map[string]string // element id → page id
	clock  uint64
	writes chan func()
	done   chan struct{}

	printMu sync.Mutex
	prints  map[string]string // page id → store fingerprint after our last write
}

// fingerprinter is implemented by stores that can summarize a page.
type fingerprinter interface {
	Fingerprint(pageID string) (string, error)
}

// NewElementService creates an ElementService and starts its persistence
// writer. plugins may be nil.
func NewElementService(store domain.ElementStore, out Broadcaster, plugins *PluginRegistry) *ElementService {
	s := &ElementService{
		store:   store,
		out:     out,
		plugins: plugins,
		pages:   make(map[string]*tree.Index),
		owner:   make(map[string]string),
		writes:  make(chan func(), 256),
		done:    make(chan struct{}),
		prints:  make(map[string]string),
	}
	go s.writer()
	return s
}

// ── persistence ────────────────────────────────────────────

func (s *ElementService) writer() {
	defer close(s.done)
	for w := range s.writes {
		w()
	}
}

// persist queues a store write for a page. Writes run in submission order.
func (s *ElementService) persist(pageID, what string, fn func() error) {
	if s.store == nil {
		return
	}
	s.writes <- func() {
		if err := fn(); err != nil {
			log.Printf("element service: persist %s: %v", what, err)
		}
		s.recordPrint(pageID)
	}
}

func (s *ElementService) recordPrint(pageID string) {
	fp, ok := s.store.(fingerprinter)
	if !ok {
		return
	}
	v, err := fp.Fingerprint(pageID)
	if err != nil {
		return
	}
	s.printMu.Lock()
	s.prints[pageID] = v
	s.printMu.Unlock()
}

// StoredFingerprint returns the store fingerprint of a page as it was right
// after this service last wrote to it. A different current fingerprint
// means another process edited the page.
func (s *ElementService) StoredFingerprint(pageID string) (string, bool) {
	s.printMu.Lock()
	defer s.printMu.Unlock()
	fp, ok := s.prints[pageID]
	return fp, ok
}

// Flush blocks until every queued write has run or ctx ends.
func (s *ElementService) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	select {
	case s.writes <- func() { close(barrier) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes and stops the writer.
func (s *ElementService) Close() {
	close(s.writes)
	<-s.done
}

func (s *ElementService) broadcast(ctx context.Context, pageID string, env syncproto.Envelope) {
	if s.out == nil {
		return
	}
	var err error
	if ps, ok := s.out.(PageSender); ok {
		err = ps.SendPage(ctx, pageID, env)
	} else {
		err = s.out.Send(ctx, env)
	}
	if err != nil {
		log.Printf("element service: broadcast %s: %v", env.Type(), err)
	}
}

// ── loading ────────────────────────────────────────────────

// Load reads a page into the working copy if it is not loaded yet and
// returns its elements.
func (s *ElementService) Load(pageID string) ([]domain.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ix, err := s.pageLocked(pageID)
	if err != nil {
		return nil, err
	}
	return ix.Elements(), nil
}

// Reload discards the working copy of a page and reads it again, e.g. after
// an external edit. It broadcasts the fresh collection.
func (s *ElementService) Reload(ctx context.Context, pageID string) ([]domain.Element, error) {
	s.mu.Lock()
	if ix, ok := s.pages[pageID]; ok {
		for _, el := range ix.Elements() {
			delete(s.owner, el.ID)
		}
		delete(s.pages, pageID)
	}
	ix, err := s.pageLocked(pageID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	elements := ix.Elements()
	s.mu.Unlock()

	s.broadcast(ctx, pageID, syncproto.UpdateElements{Elements: elements})
	return elements, nil
}

// Unload drops the working copy of a page, e.g. after the page was deleted.
func (s *ElementService) Unload(pageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ix, ok := s.pages[pageID]; ok {
		for _, el := range ix.Elements() {
			delete(s.owner, el.ID)
		}
		delete(s.pages, pageID)
	}
}

func (s *ElementService) pageLocked(pageID string) (*tree.Index, error) {
	if ix, ok := s.pages[pageID]; ok {
		return ix, nil
	}
	var elements []domain.Element
	if s.store != nil {
		list, err := s.store.ListElements(pageID)
		if err != nil {
			return nil, fmt.Errorf("load page %s: %w", pageID, err)
		}
		elements = list
	}
	ix := tree.New(elements)
	s.pages[pageID] = ix
	for _, el := range elements {
		s.owner[el.ID] = pageID
	}
	return ix, nil
}

func (s *ElementService) lookupLocked(id string) (*tree.Index, domain.Element, error) {
	pageID, ok := s.owner[id]
	if !ok {
		return nil, domain.Element{}, fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	ix := s.pages[pageID]
	el, ok := ix.Get(id)
	if !ok {
		return nil, domain.Element{}, fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	return ix, el, nil
}

// Snapshot returns the envelope that brings a new rendering context up to
// date with a page.
func (s *ElementService) Snapshot(pageID string) (syncproto.UpdateElements, error) {
	elements, err := s.Load(pageID)
	if err != nil {
		return syncproto.UpdateElements{}, err
	}
	return syncproto.UpdateElements{Elements: elements}, nil
}

// Get returns one element of a loaded page.
func (s *ElementService) Get(id string) (domain.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, el, err := s.lookupLocked(id)
	return el, err
}

// Children returns the live children of parentID on pageID.
func (s *ElementService) Children(pageID, parentID string) ([]domain.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ix, err := s.pageLocked(pageID)
	if err != nil {
		return nil, err
	}
	return ix.Children(parentID), nil
}

// ── mutations ──────────────────────────────────────────────

// CreateInput describes a new element.
type CreateInput struct {
	PageID      string                    `json:"pageId"`
	ParentID    string                    `json:"parentId,omitempty"`
	Tag         string                    `json:"tag"`
	Props       map[string]any            `json:"props,omitempty"`
	DataBinding *domain.BindingDescriptor `json:"dataBinding,omitempty"`
}

// Create appends a new element after its last sibling. The element is
// persisted before plugins run so their follow-up writes find it.
func (s *ElementService) Create(ctx context.Context, in CreateInput) (domain.Element, error) {
	if in.Tag == "" {
		return domain.Element{}, fmt.Errorf("create element: tag is required")
	}
	if in.DataBinding != nil {
		if err := in.DataBinding.Validate(); err != nil {
			return domain.Element{}, fmt.Errorf("create element: %w", err)
		}
	}

	s.mu.Lock()
	ix, err := s.pageLocked(in.PageID)
	if err != nil {
		s.mu.Unlock()
		return domain.Element{}, err
	}
	if in.ParentID != "" {
		if _, ok := ix.Get(in.ParentID); !ok {
			s.mu.Unlock()
			return domain.Element{}, fmt.Errorf("create element: parent %s: %w", in.ParentID, ErrElementNotFound)
		}
	}
	el := domain.Element{
		ID:          uuid.NewString(),
		Tag:         in.Tag,
		Props:       domain.CloneProps(in.Props),
		PageID:      in.PageID,
		OrderNum:    ix.NextOrder(in.ParentID),
		DataBinding: in.DataBinding,
	}
	if el.Props == nil {
		el.Props = map[string]any{}
	}
	if in.ParentID != "" {
		el.ParentID = domain.StringPtr(in.ParentID)
	}
	ix.Upsert(el)
	s.owner[el.ID] = in.PageID
	elements := ix.Elements()
	s.mu.Unlock()

	stored := el.Clone()
	s.persist(in.PageID, "create "+el.ID, func() error { return s.store.CreateElement(&stored) })
	s.broadcast(ctx, in.PageID, syncproto.UpdateElements{Elements: elements})

	if err := s.plugins.OnCreate(ctx, el); err != nil {
		log.Printf("element service: plugin create %s: %v", el.ID, err)
	}
	return el, nil
}

// PatchProps updates an element's props. With merge the patch is shallow
// merged; otherwise it replaces the props.
func (s *ElementService) PatchProps(ctx context.Context, id string, props map[string]any, merge bool) (domain.Element, error) {
	s.mu.Lock()
	ix, _, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return domain.Element{}, err
	}
	ix.PatchProps(id, props, merge)
	el, _ := ix.Get(id)
	s.clock++
	env := syncproto.UpdateElementProps{ElementID: id, Props: domain.CloneProps(props), Merge: merge, Clock: s.clock}
	s.mu.Unlock()

	s.broadcast(ctx, el.PageID, env)
	stored := el.Clone()
	s.persist(el.PageID, "update "+id, func() error { return s.store.UpdateElement(&stored) })
	return el, nil
}

// SetBinding replaces an element's data binding. A nil descriptor unbinds.
func (s *ElementService) SetBinding(ctx context.Context, id string, desc *domain.BindingDescriptor) (domain.Element, error) {
	if desc != nil {
		if err := desc.Validate(); err != nil {
			return domain.Element{}, fmt.Errorf("set binding: %w", err)
		}
	}
	s.mu.Lock()
	ix, el, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return domain.Element{}, err
	}
	el.DataBinding = desc
	ix.Upsert(el)
	elements := ix.Elements()
	s.mu.Unlock()

	s.broadcast(ctx, el.PageID, syncproto.UpdateElements{Elements: elements})
	stored := el.Clone()
	s.persist(el.PageID, "bind "+id, func() error { return s.store.UpdateElement(&stored) })
	return el, nil
}

// Delete removes an element and all of its descendants. References to the
// removed elements held by ancestors (selection, expansion, tab order) are
// pruned first. With soft the rows are kept and flagged deleted.
func (s *ElementService) Delete(ctx context.Context, id string, soft bool) ([]string, error) {
	s.mu.Lock()
	ix, el, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ids := append([]string{id}, ix.DescendantIDs(id)...)
	removed := make([]domain.Element, 0, len(ids))
	refs := make(map[string]bool, len(ids)*2)
	gone := make(map[string]bool, len(ids))
	for _, rid := range ids {
		if e, ok := ix.Get(rid); ok {
			removed = append(removed, e)
			gone[rid] = true
			refs[rid] = true
			for _, k := range []string{"key", "tabId", "value"} {
				if v := e.StringProp(k); v != "" {
					refs[v] = true
				}
			}
		}
	}

	var pruned []syncproto.UpdateElementProps
	var prunedEls []domain.Element
	for _, anc := range ix.Ancestors(el.ID) {
		// a parent_id loop makes removed elements their own ancestors
		if gone[anc.ID] {
			continue
		}
		next, changed := pruneReferences(anc.Props, refs)
		if !changed {
			continue
		}
		ix.PatchProps(anc.ID, next, false)
		s.clock++
		pruned = append(pruned, syncproto.UpdateElementProps{ElementID: anc.ID, Props: domain.CloneProps(next), Clock: s.clock})
		a, _ := ix.Get(anc.ID)
		prunedEls = append(prunedEls, a.Clone())
	}

	if soft {
		for _, e := range removed {
			e.Deleted = true
			ix.Upsert(e)
		}
	} else {
		ix.Delete(ids...)
		for _, rid := range ids {
			delete(s.owner, rid)
		}
	}
	s.mu.Unlock()

	for _, e := range removed {
		if err := s.plugins.OnDelete(ctx, e); err != nil {
			log.Printf("element service: plugin delete %s: %v", e.ID, err)
		}
	}
	for _, env := range pruned {
		s.broadcast(ctx, el.PageID, env)
	}
	if len(ids) == 1 {
		s.broadcast(ctx, el.PageID, syncproto.DeleteElement{ElementID: id})
	} else {
		s.broadcast(ctx, el.PageID, syncproto.DeleteElements{ElementIDs: ids})
	}

	for i := range prunedEls {
		stored := prunedEls[i]
		s.persist(el.PageID, "prune "+stored.ID, func() error { return s.store.UpdateElement(&stored) })
	}
	// children first so a hard delete never leaves orphans behind a failure
	for i := len(ids) - 1; i >= 0; i-- {
		rid := ids[i]
		if soft {
			s.persist(el.PageID, "soft delete "+rid, func() error { return s.store.SoftDeleteElement(rid) })
		} else {
			s.persist(el.PageID, "delete "+rid, func() error { return s.store.DeleteElement(rid) })
		}
	}
	return ids, nil
}

// pruneReferences drops refs from the reference props of a container. The
// input map is not modified.
func pruneReferences(props map[string]any, refs map[string]bool) (map[string]any, bool) {
	var next map[string]any
	ensure := func() {
		if next == nil {
			next = domain.CloneProps(props)
		}
	}
	for _, k := range referenceProps {
		switch v := props[k].(type) {
		case string:
			if refs[v] {
				ensure()
				delete(next, k)
			}
		case []any:
			kept := make([]any, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && refs[s] {
					continue
				}
				kept = append(kept, item)
			}
			if len(kept) != len(v) {
				ensure()
				next[k] = kept
			}
		case []string:
			kept := make([]any, 0, len(v))
			for _, item := range v {
				if !refs[item] {
					kept = append(kept, item)
				}
			}
			if len(kept) != len(v) {
				ensure()
				next[k] = kept
			}
		}
	}
	if next == nil {
		return props, false
	}
	return next, true
}

// Reorder sets the sibling order of parentID's children to ids. Children not
// named keep their relative order after the named ones.
func (s *ElementService) Reorder(ctx context.Context, pageID, parentID string, ids []string) error {
	s.mu.Lock()
	ix, err := s.pageLocked(pageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	children := ix.Children(parentID)
	byID := make(map[string]domain.Element, len(children))
	for _, c := range children {
		byID[c.ID] = c
	}
	var ordered []domain.Element
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("reorder: %s is not a child of %q: %w", id, parentID, ErrElementNotFound)
		}
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, c)
		}
	}
	for _, c := range children {
		if !seen[c.ID] {
			ordered = append(ordered, c)
		}
	}
	changed := make([]domain.Element, 0, len(ordered))
	for i, c := range ordered {
		if c.OrderNum == float64(i) {
			continue
		}
		c.OrderNum = float64(i)
		ix.Upsert(c)
		changed = append(changed, c.Clone())
	}
	elements := ix.Elements()
	s.mu.Unlock()

	if len(changed) == 0 {
		return nil
	}
	s.broadcast(ctx, pageID, syncproto.UpdateElements{Elements: elements})
	for i := range changed {
		stored := changed[i]
		s.persist(pageID, "reorder "+stored.ID, func() error { return s.store.UpdateElement(&stored) })
	}
	return nil
}

// Replace swaps a page's whole collection. Ids that already belong to
// another page, and repeated ids, are dropped: element ids are unique
// across pages.
func (s *ElementService) Replace(ctx context.Context, pageID string, elements []domain.Element) error {
	stored := s.storedPages(pageID, elements)

	s.mu.Lock()
	seen := make(map[string]bool, len(elements))
	copies := make([]domain.Element, 0, len(elements))
	for _, el := range elements {
		owner := s.owner[el.ID]
		if owner == "" {
			owner = stored[el.ID]
		}
		switch {
		case el.ID == "" || seen[el.ID]:
			continue
		case owner != "" && owner != pageID:
			log.Printf("element service: replace page %s: %s belongs to page %s, dropped", pageID, el.ID, owner)
			continue
		}
		seen[el.ID] = true
		c := el.Clone()
		c.PageID = pageID
		copies = append(copies, c)
	}
	if ix, ok := s.pages[pageID]; ok {
		for _, el := range ix.Elements() {
			delete(s.owner, el.ID)
		}
	}
	s.pages[pageID] = tree.New(copies)
	for _, el := range copies {
		s.owner[el.ID] = pageID
	}
	s.mu.Unlock()

	s.broadcast(ctx, pageID, syncproto.UpdateElements{Elements: copies})
	rows := make([]domain.Element, len(copies))
	for i := range copies {
		rows[i] = copies[i].Clone()
	}
	s.persist(pageID, "replace page "+pageID, func() error { return s.store.ReplacePageElements(pageID, rows) })
	return nil
}

// storedPages looks up the stored page of incoming ids the working copies
// do not know, so elements of pages nobody has loaded are not taken over.
func (s *ElementService) storedPages(pageID string, elements []domain.Element) map[string]string {
	out := map[string]string{}
	if s.store == nil {
		return out
	}
	s.mu.Lock()
	var unknown []string
	for _, el := range elements {
		if _, ok := s.owner[el.ID]; !ok && el.ID != "" {
			unknown = append(unknown, el.ID)
		}
	}
	s.mu.Unlock()
	for _, id := range unknown {
		e, err := s.store.GetElement(id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				log.Printf("element service: replace page %s: lookup %s: %v", pageID, id, err)
			}
			continue
		}
		out[id] = e.PageID
	}
	return out
}

// AddColumns inserts generated Column elements under a table. Existing
// columns with the same field are kept and not duplicated.
func (s *ElementService) AddColumns(ctx context.Context, tableID string, fields []string) ([]domain.Element, error) {
	s.mu.Lock()
	ix, table, err := s.lookupLocked(tableID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	have := map[string]bool{}
	for _, c := range ix.ChildrenOfKind(tableID, domain.KindColumn) {
		have[c.StringProp("field")] = true
	}
	var added []domain.Element
	for _, f := range fields {
		if f == "" || have[f] {
			continue
		}
		have[f] = true
		col := domain.Element{
			ID:       uuid.NewString(),
			Tag:      domain.KindColumn.String(),
			Props:    map[string]any{"field": f, "header": f},
			ParentID: domain.StringPtr(tableID),
			PageID:   table.PageID,
			OrderNum: ix.NextOrder(tableID),
		}
		ix.Upsert(col)
		s.owner[col.ID] = table.PageID
		added = append(added, col)
	}
	s.mu.Unlock()

	if len(added) == 0 {
		return nil, nil
	}
	s.broadcast(ctx, table.PageID, syncproto.AddColumnElements{Payload: syncproto.ColumnPayload{ParentID: tableID, Elements: added}})
	for i := range added {
		stored := added[i].Clone()
		s.persist(table.PageID, "create column "+stored.ID, func() error { return s.store.CreateElement(&stored) })
	}
	return added, nil
}

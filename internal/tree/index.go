package tree

import (
	"sort"

	"appbuilder/internal/domain"
)

// ── Index ──────────────────────────────────────────────────
// An arena of elements keyed by id plus a children index keyed by parent id.
// Children lists are kept sorted by (order_num, insertion sequence), which is
// exactly what filtering the flat collection on parent_id and stable-sorting
// by order_num would produce, without re-scanning the collection per query.
//
// An Index is not safe for concurrent mutation; owners guard it.

const rootKey = ""

type entry struct {
	el  domain.Element
	seq int // position in the original collection, used as the tie breaker
}

// Index is the derived structural view of a flat element collection.
type Index struct {
	nodes    map[string]*entry
	children map[string][]string
	nextSeq  int
}

// New builds an index over elements, keeping their collection order as the
// sibling tie breaker.
func New(elements []domain.Element) *Index {
	ix := &Index{}
	ix.Replace(elements)
	return ix
}

// Replace discards the current contents and indexes elements afresh.
func (ix *Index) Replace(elements []domain.Element) {
	ix.nodes = make(map[string]*entry, len(elements))
	ix.children = make(map[string][]string)
	ix.nextSeq = 0
	for _, el := range elements {
		ix.Upsert(el)
	}
}

// Len returns the number of indexed elements, soft-deleted ones included.
func (ix *Index) Len() int { return len(ix.nodes) }

// Get returns an element by id.
func (ix *Index) Get(id string) (domain.Element, bool) {
	e, ok := ix.nodes[id]
	if !ok {
		return domain.Element{}, false
	}
	return e.el, true
}

// Upsert inserts or replaces an element. A replaced element keeps its original
// collection position.
func (ix *Index) Upsert(el domain.Element) {
	if old, ok := ix.nodes[el.ID]; ok {
		ix.unlink(old.el.Parent(), el.ID)
		old.el = el
		ix.link(el.Parent(), el.ID)
		return
	}
	ix.nodes[el.ID] = &entry{el: el, seq: ix.nextSeq}
	ix.nextSeq++
	ix.link(el.Parent(), el.ID)
}

// PatchProps updates an element's props. With merge the patch is shallow-merged
// into a copy of the current props; otherwise it replaces them. The previous
// props map is never written to.
func (ix *Index) PatchProps(id string, props map[string]any, merge bool) bool {
	e, ok := ix.nodes[id]
	if !ok {
		return false
	}
	if merge && e.el.Props != nil {
		next := make(map[string]any, len(e.el.Props)+len(props))
		for k, v := range e.el.Props {
			next[k] = v
		}
		for k, v := range props {
			next[k] = v
		}
		e.el.Props = next
	} else {
		e.el.Props = domain.CloneProps(props)
		if e.el.Props == nil {
			e.el.Props = map[string]any{}
		}
	}
	return true
}

// Delete removes elements by id. Children are not removed implicitly.
func (ix *Index) Delete(ids ...string) int {
	n := 0
	for _, id := range ids {
		e, ok := ix.nodes[id]
		if !ok {
			continue
		}
		ix.unlink(e.el.Parent(), id)
		delete(ix.nodes, id)
		n++
	}
	return n
}

// Roots returns the live top-level elements in sibling order.
func (ix *Index) Roots() []domain.Element {
	return ix.Children(rootKey)
}

// Children returns the live direct children of parentID in sibling order.
// An empty parentID yields the roots.
func (ix *Index) Children(parentID string) []domain.Element {
	ids := ix.children[parentID]
	out := make([]domain.Element, 0, len(ids))
	for _, id := range ids {
		if e := ix.nodes[id]; e != nil && !e.el.Deleted {
			out = append(out, e.el)
		}
	}
	return out
}

// ChildrenOfKind returns the live children of parentID with the given kind.
func (ix *Index) ChildrenOfKind(parentID string, kind domain.ElementKind) []domain.Element {
	var out []domain.Element
	for _, c := range ix.Children(parentID) {
		if c.Kind() == kind {
			out = append(out, c)
		}
	}
	return out
}

// DescendantIDs returns ids of every element below id, soft-deleted ones
// included, so callers can enumerate a full cascading delete. A parent_id
// loop is walked once; id itself is never listed.
func (ix *Index) DescendantIDs(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	var walk func(string)
	walk = func(parent string) {
		for _, cid := range ix.children[parent] {
			if seen[cid] {
				continue
			}
			seen[cid] = true
			out = append(out, cid)
			walk(cid)
		}
	}
	walk(id)
	return out
}

// Ancestors returns the chain of parents of id, nearest first.
func (ix *Index) Ancestors(id string) []domain.Element {
	var out []domain.Element
	seen := map[string]bool{id: true}
	e, ok := ix.nodes[id]
	for ok {
		pid := e.el.Parent()
		if pid == "" || seen[pid] {
			break
		}
		seen[pid] = true
		e, ok = ix.nodes[pid]
		if ok {
			out = append(out, e.el)
		}
	}
	return out
}

// Elements returns every indexed element in original collection order.
func (ix *Index) Elements() []domain.Element {
	entries := make([]*entry, 0, len(ix.nodes))
	for _, e := range ix.nodes {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.Element, len(entries))
	for i, e := range entries {
		out[i] = e.el
	}
	return out
}

// NextOrder returns an order_num that places a new element after the last
// existing child of parentID.
func (ix *Index) NextOrder(parentID string) float64 {
	ids := ix.children[parentID]
	if len(ids) == 0 {
		return 0
	}
	return ix.nodes[ids[len(ids)-1]].el.OrderNum + 1
}

func (ix *Index) link(parentID, id string) {
	ids := ix.children[parentID]
	e := ix.nodes[id]
	pos := sort.Search(len(ids), func(i int) bool {
		o := ix.nodes[ids[i]]
		if o.el.OrderNum != e.el.OrderNum {
			return o.el.OrderNum > e.el.OrderNum
		}
		return o.seq > e.seq
	})
	ids = append(ids, "")
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = id
	ix.children[parentID] = ids
}

func (ix *Index) unlink(parentID, id string) {
	ids := ix.children[parentID]
	for i, cid := range ids {
		if cid == id {
			ix.children[parentID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ix.children[parentID]) == 0 {
		delete(ix.children, parentID)
	}
}

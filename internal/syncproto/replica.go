package syncproto

import (
	"fmt"
	"log"
	"reflect"
	"sort"
	"strings"
	"sync"

	"appbuilder/internal/domain"
	"appbuilder/internal/tree"
)

// ── Replica ────────────────────────────────────────────────
// The receiving side's copy of a page: an element tree plus one generated
// style block. Prop patches carrying a clock are resolved per field by the
// highest clock seen, so reordered deliveries converge; patches without a
// clock are applied in delivery order.

// Replica applies envelopes to a local tree. It is safe for concurrent use.
type Replica struct {
	mu     sync.RWMutex
	ix     *tree.Index
	clocks map[string]*fieldClocks
	style  string
}

// fieldClocks tracks the clock of each prop of one element. floor is the
// clock of the latest wholesale replace; older writes to any field lose.
type fieldClocks struct {
	floor  uint64
	fields map[string]uint64
}

func (c *fieldClocks) wins(field string, clock uint64) bool {
	return clock >= c.floor && clock >= c.fields[field]
}

// NewReplica creates a replica seeded with elements.
func NewReplica(elements []domain.Element) *Replica {
	return &Replica{
		ix:     tree.New(elements),
		clocks: make(map[string]*fieldClocks),
	}
}

// Apply applies env and reports whether anything changed.
func (r *Replica) Apply(env Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := env.(type) {
	case UpdateElements:
		r.ix.Replace(e.Elements)
		r.clocks = make(map[string]*fieldClocks)
		return true
	case UpdateElementProps:
		return r.applyProps(e)
	case DeleteElement:
		return r.delete(e.ElementID) > 0
	case DeleteElements:
		return r.delete(e.ElementIDs...) > 0
	case ThemeVars:
		return r.setStyle(varsBlock(e.Vars))
	case UpdateThemeTokens:
		return r.setStyle(tokensBlock(e.Styles))
	case AddColumnElements:
		return r.addColumns(e.Payload)
	default:
		log.Printf("syncproto: replica ignoring %T", env)
		return false
	}
}

func (r *Replica) delete(ids ...string) int {
	for _, id := range ids {
		delete(r.clocks, id)
	}
	return r.ix.Delete(ids...)
}

func (r *Replica) applyProps(e UpdateElementProps) bool {
	el, ok := r.ix.Get(e.ElementID)
	if !ok {
		log.Printf("syncproto: props for unknown element %s dropped", e.ElementID)
		return false
	}

	if e.Clock == 0 {
		delete(r.clocks, e.ElementID)
		r.ix.PatchProps(e.ElementID, e.Props, e.Merge)
		return true
	}

	clocks := r.clocks[e.ElementID]
	if clocks == nil {
		clocks = &fieldClocks{fields: make(map[string]uint64)}
		r.clocks[e.ElementID] = clocks
	}
	next := domain.CloneProps(el.Props)
	if next == nil {
		next = map[string]any{}
	}
	for k, v := range e.Props {
		if !clocks.wins(k, e.Clock) {
			continue
		}
		clocks.fields[k] = e.Clock
		next[k] = domain.CloneValue(v)
	}
	if !e.Merge && e.Clock >= clocks.floor {
		for k := range next {
			if _, patched := e.Props[k]; patched || clocks.fields[k] > e.Clock {
				continue
			}
			delete(next, k)
		}
		clocks.floor = e.Clock
	}
	if reflect.DeepEqual(next, el.Props) {
		return false
	}
	r.ix.PatchProps(e.ElementID, next, false)
	return true
}

func (r *Replica) addColumns(p ColumnPayload) bool {
	if _, ok := r.ix.Get(p.ParentID); !ok {
		log.Printf("syncproto: columns for unknown parent %s dropped", p.ParentID)
		return false
	}
	for _, el := range p.Elements {
		if el.ParentID == nil {
			el.ParentID = domain.StringPtr(p.ParentID)
		}
		r.ix.Upsert(el)
	}
	return len(p.Elements) > 0
}

func (r *Replica) setStyle(block string) bool {
	if block == r.style {
		return false
	}
	r.style = block
	return true
}

// Style returns the generated style block.
func (r *Replica) Style() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.style
}

// Element returns one element.
func (r *Replica) Element(id string) (domain.Element, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.Get(id)
}

// Elements returns the collection in original order.
func (r *Replica) Elements() []domain.Element {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.Elements()
}

// View runs fn with the tree under the read lock. fn must not retain ix.
func (r *Replica) View(fn func(ix *tree.Index)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.ix)
}

// varsBlock renders custom properties as one :root rule.
func varsBlock(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(":root {\n")
	for _, k := range keys {
		name := k
		if !strings.HasPrefix(name, "--") {
			name = "--" + name
		}
		fmt.Fprintf(&b, "  %s: %s;\n", name, vars[k])
	}
	b.WriteString("}\n")
	return b.String()
}

// tokensBlock accepts raw CSS or an object of custom properties.
func tokensBlock(styles any) string {
	switch s := styles.(type) {
	case string:
		return s
	case map[string]any:
		vars := make(map[string]string, len(s))
		for k, v := range s {
			vars[k] = fmt.Sprint(v)
		}
		return varsBlock(vars)
	default:
		return ""
	}
}

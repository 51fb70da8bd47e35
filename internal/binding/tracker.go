package binding

import (
	"context"
	"log"
	"sync"

	"appbuilder/internal/domain"
)

// ── Tracker ─────────────────────────────────────────────────
// Per-element resolution state. A binding is re-resolved only when the
// stable key of its descriptor changes. Every dispatch gets a sequence
// number; a result is committed only if its sequence is still the latest for
// that element when it arrives, so a slow superseded resolution can never
// overwrite a newer one. Superseded resolutions also have their context
// cancelled, but correctness does not depend on sources honoring it.

// ChangeHandler is called after an asynchronous result is committed.
type ChangeHandler func(elementID string, res Result)

type slot struct {
	key    string
	desc   domain.BindingDescriptor
	seq    uint64
	result Result
	cancel context.CancelFunc
}

// Tracker owns the binding results of one rendering context.
type Tracker struct {
	resolver *Resolver

	mu       sync.Mutex
	slots    map[string]*slot
	seq      uint64
	onChange []ChangeHandler
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a tracker resolving through r.
func NewTracker(r *Resolver) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		resolver: r,
		slots:    make(map[string]*slot),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnChange registers a handler for committed asynchronous results.
func (t *Tracker) OnChange(fn ChangeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// Bind returns the current result for elementID under desc. If desc differs
// structurally from the last one bound to elementID a new resolution is
// dispatched: static bindings resolve inline, others return a loading result
// now and report through OnChange later. A nil desc clears the slot.
func (t *Tracker) Bind(elementID string, desc *domain.BindingDescriptor) Result {
	if desc == nil {
		t.Forget(elementID)
		return Result{Data: []domain.Record{}}
	}
	key := StableKey(desc)

	t.mu.Lock()
	if s, ok := t.slots[elementID]; ok && s.key == key {
		res := s.result
		t.mu.Unlock()
		return res
	}
	if t.closed {
		t.mu.Unlock()
		return Result{Data: []domain.Record{}, Error: "binding tracker closed"}
	}
	s := t.slots[elementID]
	if s == nil {
		s = &slot{}
		t.slots[elementID] = s
	}
	s.key = key
	s.desc = *desc
	res := t.dispatchLocked(elementID, s, false)
	t.mu.Unlock()
	return res
}

// Result returns the current result for elementID without dispatching.
func (t *Tracker) Result(elementID string) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[elementID]
	if !ok {
		return Result{}, false
	}
	return s.result, true
}

// Refresh re-resolves the bound descriptor of elementID even though it has
// not changed. Current data stays visible while loading.
func (t *Tracker) Refresh(elementID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[elementID]
	if !ok || t.closed {
		return false
	}
	t.dispatchLocked(elementID, s, true)
	return true
}

// Bound returns the ids that currently have a binding slot.
func (t *Tracker) Bound() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.slots))
	for id := range t.slots {
		ids = append(ids, id)
	}
	return ids
}

// Forget drops the slot for elementID and cancels any in-flight resolution.
func (t *Tracker) Forget(elementID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.slots[elementID]; ok {
		if s.cancel != nil {
			s.cancel()
		}
		delete(t.slots, elementID)
	}
}

// Wait blocks until no resolution is in flight.
func (t *Tracker) Wait() { t.wg.Wait() }

// Close cancels everything in flight and waits for the goroutines to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) dispatchLocked(elementID string, s *slot, keepData bool) Result {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	t.seq++
	s.seq = t.seq
	desc := s.desc

	if t.resolver.Synchronous(&desc) {
		s.result = t.resolver.Resolve(t.ctx, &desc)
		return s.result
	}

	loading := Result{Data: []domain.Record{}, Loading: true}
	if keepData && s.result.Data != nil {
		loading.Data = s.result.Data
	}
	s.result = loading

	ctx, cancel := context.WithCancel(t.ctx)
	s.cancel = cancel
	seq := s.seq
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		res := t.resolver.Resolve(ctx, &desc)
		t.commit(elementID, seq, res)
	}()
	return loading
}

func (t *Tracker) commit(elementID string, seq uint64, res Result) {
	t.mu.Lock()
	s, ok := t.slots[elementID]
	if !ok || s.seq != seq {
		t.mu.Unlock()
		log.Printf("binding: discarded stale result for %s (seq %d)", elementID, seq)
		return
	}
	s.result = res
	s.cancel = nil
	handlers := t.onChange
	t.mu.Unlock()

	for _, fn := range handlers {
		fn(elementID, res)
	}
}

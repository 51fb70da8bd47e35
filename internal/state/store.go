package state

import (
	"sync"

	"appbuilder/internal/domain"
)

// ── Store ──────────────────────────────────────────────────
// The key/value store actions use to talk to each other and to bound UI.
// One Store per runtime session: it is created with the session and handed
// to the interpreter and renderers explicitly, so separate previews never
// share state.

// ChangeFunc observes a committed write. Value is nil for deletions.
type ChangeFunc func(key string, value any)

// Store is a session-scoped key/value map.
type Store struct {
	mu       sync.RWMutex
	values   map[string]any
	onChange []ChangeFunc
}

// New creates an empty Store.
func New() *Store {
	return &Store{values: make(map[string]any)}
}

// OnChange registers an observer called after every write, outside the lock.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Get returns the value at key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set replaces the value at key.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	observers := s.onChange
	s.mu.Unlock()
	notify(observers, key, value)
}

// Merge shallow-merges value into the existing value at key when both are
// objects; otherwise it behaves like Set. The existing map is not modified.
func (s *Store) Merge(key string, value any) any {
	s.mu.Lock()
	next := value
	if patch, ok := value.(map[string]any); ok {
		if cur, ok := s.values[key].(map[string]any); ok {
			merged := make(map[string]any, len(cur)+len(patch))
			for k, v := range cur {
				merged[k] = v
			}
			for k, v := range patch {
				merged[k] = v
			}
			next = merged
		}
	}
	s.values[key] = next
	observers := s.onChange
	s.mu.Unlock()
	notify(observers, key, next)
	return next
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	_, existed := s.values[key]
	delete(s.values, key)
	observers := s.onChange
	s.mu.Unlock()
	if existed {
		notify(observers, key, nil)
	}
}

// Snapshot returns a deep copy of the current contents.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.CloneProps(s.values)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Clear drops every key. Only called on full session teardown.
func (s *Store) Clear() {
	s.mu.Lock()
	s.values = make(map[string]any)
	s.mu.Unlock()
}

func notify(observers []ChangeFunc, key string, value any) {
	for _, fn := range observers {
		fn(key, value)
	}
}

// Package kv provides the typed in-memory key-value primitives the memory
// store is built from: an insertion-ordered map and a secondary index.
package kv

import (
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned for unknown keys.
	ErrNotFound = errors.New("key not found")
	// ErrExists is returned when inserting a key twice.
	ErrExists = errors.New("key already exists")
)

// Store maps string ids to values of type V. It is safe for concurrent use,
// remembers insertion order and hands out clones so callers never alias
// stored state.
type Store[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	order []string
	clone func(V) V
}

// New creates an empty store. clone may be nil for value types without
// reference fields.
func New[V any](clone func(V) V) *Store[V] {
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &Store[V]{
		items: make(map[string]V),
		clone: clone,
	}
}

// Insert adds a new entry.
func (s *Store[V]) Insert(id string, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return ErrExists
	}
	s.items[id] = s.clone(v)
	s.order = append(s.order, id)
	return nil
}

// Get returns a copy of the entry stored under id.
func (s *Store[V]) Get(id string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[id]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return s.clone(v), nil
}

// Has reports whether id is present.
func (s *Store[V]) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// Update runs fn against the stored entry while holding the write lock, so
// the read-modify-write is atomic with respect to every other operation on
// the store. The entry is left untouched when fn returns an error.
func (s *Store[V]) Update(id string, fn func(*V) error) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	working := s.clone(current)
	if err := fn(&working); err != nil {
		var zero V
		return zero, err
	}
	s.items[id] = working
	return s.clone(working), nil
}

// Delete removes an entry.
func (s *Store[V]) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	for i, key := range s.order {
		if key == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Values returns copies of all entries in insertion order.
func (s *Store[V]) Values() []V {
	return s.Filter(nil)
}

// Filter returns copies of the entries accepted by keep, in insertion order.
// A nil keep accepts everything.
func (s *Store[V]) Filter(keep func(V) bool) []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]V, 0, len(s.order))
	for _, id := range s.order {
		v := s.items[id]
		if keep != nil && !keep(v) {
			continue
		}
		result = append(result, s.clone(v))
	}
	return result
}

// Len returns the number of entries.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Index is a concurrency-safe secondary index from a key to the ordered
// list of primary ids filed under it.
type Index struct {
	mu      sync.RWMutex
	entries map[string][]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[string][]string)}
}

// Add files id under key.
func (x *Index) Add(key, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[key] = append(x.entries[key], id)
}

// Remove drops id from key.
func (x *Index) Remove(key, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ids := x.entries[key]
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(x.entries, key)
		return
	}
	x.entries[key] = ids
}

// Lookup returns the ids filed under key in insertion order.
func (x *Index) Lookup(key string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]string(nil), x.entries[key]...)
}

// Count returns how many ids are filed under key.
func (x *Index) Count(key string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries[key])
}

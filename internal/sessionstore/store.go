// Package sessionstore isolates hook state per session instance and
// environment.
//
// Stores are keyed by (session id, instance id, environment id). Every
// environment gets a private namespace and each session instance has one
// extra global namespace. A restarted session receives a new instance id,
// so it never sees entries written by its previous instance.
package sessionstore

import (
	"sort"
	"strings"
	"sync"
)

// GlobalNamespace is the environment id of the shared per-instance store.
const GlobalNamespace = "<global>"

// Key identifies one store.
type Key struct {
	SessionID     string
	InstanceID    string
	EnvironmentID string
}

// Registry owns every live store.
type Registry struct {
	mu     sync.Mutex
	stores map[Key]*Store
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[Key]*Store)}
}

// Store returns the store for the key, creating it on first use. An empty
// environmentID selects GlobalNamespace.
func (r *Registry) Store(sessionID, instanceID, environmentID string) *Store {
	environmentID = strings.TrimSpace(environmentID)
	if environmentID == "" {
		environmentID = GlobalNamespace
	}
	key := Key{SessionID: sessionID, InstanceID: instanceID, EnvironmentID: environmentID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stores == nil {
		r.stores = make(map[Key]*Store)
	}
	store, ok := r.stores[key]
	if !ok {
		store = &Store{key: key, entries: make(map[string]*Entry)}
		r.stores[key] = store
	}
	return store
}

// Global returns the global namespace store of a session instance.
func (r *Registry) Global(sessionID, instanceID string) *Store {
	return r.Store(sessionID, instanceID, GlobalNamespace)
}

// CleanUp removes every store belonging to sessionID across all of its
// instances and returns how many were removed.
func (r *Registry) CleanUp(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, store := range r.stores {
		if key.SessionID == sessionID {
			store.close()
			delete(r.stores, key)
			removed++
		}
	}
	return removed
}

// Keys lists live store keys in a stable order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.stores))
	for key := range r.stores {
		keys = append(keys, key)
	}
	r.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		if a.InstanceID != b.InstanceID {
			return a.InstanceID < b.InstanceID
		}
		return a.EnvironmentID < b.EnvironmentID
	})
	return keys
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// Store is one namespace of lazily initialized entries.
type Store struct {
	key     Key
	mu      sync.Mutex
	entries map[string]*Entry
	closed  bool
}

// Key returns the store's key.
func (s *Store) Key() Key { return s.key }

// Use returns the entry for key, creating it with defaultValue on first use.
func (s *Store) Use(key string, defaultValue any) *Entry {
	return s.UseFunc(key, func() any { return defaultValue })
}

// UseFunc is Use with a lazily evaluated default; init runs at most once
// per key.
func (s *Store) UseFunc(key string, init func() any) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		return entry
	}
	var value any
	if init != nil {
		value = init()
	}
	entry := &Entry{value: value}
	if s.closed {
		// Cleaned-up stores hand out detached entries that are never retained.
		return entry
	}
	s.entries[key] = entry
	return entry
}

// Has reports whether key was initialized.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of initialized entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = make(map[string]*Entry)
}

// Entry holds one value.
type Entry struct {
	mu    sync.Mutex
	value any
}

// Get returns the current value.
func (e *Entry) Get() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Set replaces the value.
func (e *Entry) Set(value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = value
}

// Update replaces the value with fn(current) atomically with respect to
// other Entry calls.
func (e *Entry) Update(fn func(current any) any) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = fn(e.value)
	return e.value
}

// Value returns the entry's value as T.
func Value[T any](e *Entry) (T, bool) {
	v, ok := e.Get().(T)
	return v, ok
}

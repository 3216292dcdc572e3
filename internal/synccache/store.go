// Package synccache holds hierarchical response snapshots for the duration of a sync run.
//
// Entries live under a small fixed set of namespace keys. Within a namespace, values nest by
// application id, then environment id, then resource id. Set merges recursively, so caching
// one application's environments never drops another application's entry.
package synccache

import (
	"maps"
	"slices"
	"sync"
)

// Namespace keys, one per entity kind read from the source platform.
const (
	Applications = "applications"
	Environments = "environments"
	Resources    = "resources"
)

// Store is a mutex-guarded key/value store. The zero value is ready to use.
type Store struct {
	mu      sync.Mutex
	entries map[string]map[string]any
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Set merges data into the mapping stored under key, creating it if absent. Nested maps are
// merged level by level; any other value in data replaces the stored value.
func (s *Store) Set(key string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[string]map[string]any)
	}
	existing, ok := s.entries[key]
	if !ok {
		existing = make(map[string]any, len(data))
		s.entries[key] = existing
	}
	merge(existing, data)
}

// Get returns a copy of the mapping stored under key, or an empty mapping if absent.
func (s *Store) Get(key string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries[key]
	if !ok {
		return map[string]any{}
	}
	return deepCopy(v)
}

// Lookup walks path below key and returns the value found there.
func (s *Store) Lookup(key string, path ...string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur any = s.entries[key]
	if s.entries[key] == nil {
		return nil, false
	}
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	if m, ok := cur.(map[string]any); ok {
		return deepCopy(m), true
	}
	return cur, true
}

// Delete removes the entry under key and reports whether it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.entries))
}

func merge(dst, src map[string]any) {
	for k, v := range src {
		sv, srcIsMap := v.(map[string]any)
		dv, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			merge(dv, sv)
			continue
		}
		if srcIsMap {
			dst[k] = deepCopy(sv)
			continue
		}
		dst[k] = v
	}
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}

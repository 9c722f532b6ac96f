// Package keylock provides per-key mutual exclusion. Keys that are not held
// cost nothing; entries are removed once the last holder releases them.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map serializes callers that use the same key while letting different keys
// proceed in parallel
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty key lock map
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock blocks until key is held by the caller and returns the release function
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

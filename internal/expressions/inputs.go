package expressions

import (
	"sort"
	"sync"
)

// InputContext is read-only access to the caller-owned input values that
// @{key} references resolve against. Reads observe whatever value is
// present at the moment of resolution.
type InputContext interface {
	Lookup(key string) (string, bool)
}

// StaticInputs is a fixed InputContext.
type StaticInputs map[string]string

// Lookup returns the value stored under key.
func (s StaticInputs) Lookup(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// MapInputs is a mutable InputContext that can be written by its owner while
// evaluations read from it. The lock only keeps the map itself consistent;
// evaluations do not get a snapshot.
type MapInputs struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMapInputs creates a MapInputs seeded with initial (which is copied).
func NewMapInputs(initial map[string]string) *MapInputs {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MapInputs{values: values}
}

// Lookup returns the value stored under key.
func (m *MapInputs) Lookup(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Set stores value under key.
func (m *MapInputs) Set(key, value string) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

// Delete removes key. It reports whether the key was present.
func (m *MapInputs) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	delete(m.values, key)
	return ok
}

// Keys returns the stored keys, sorted.
func (m *MapInputs) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the current values.
func (m *MapInputs) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

var (
	_ InputContext = StaticInputs(nil)
	_ InputContext = (*MapInputs)(nil)
)

package view

import (
	"sort"
	"sync"
)

// Attributes is a concurrency-safe key/value store. It backs the
// application scope and each session.
type Attributes struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewAttributes creates an empty attribute store.
func NewAttributes() *Attributes {
	return &Attributes{values: make(map[string]any)}
}

// Get returns the attribute stored under key.
func (a *Attributes) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

// Set stores value under key. A nil value removes the attribute.
func (a *Attributes) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if value == nil {
		delete(a.values, key)
		return
	}
	a.values[key] = value
}

// Remove deletes the attribute stored under key.
func (a *Attributes) Remove(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.values, key)
}

// Names returns all attribute names, sorted.
func (a *Attributes) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.values))
	for name := range a.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

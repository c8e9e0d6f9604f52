package persistence

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps short names to metadata adapters. It is built at startup and
// passed to whoever needs to pick a backend.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]MetadataAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]MetadataAdapter{}}
}

// Register adds an adapter under name. Names are unique.
func (r *Registry) Register(name string, a MetadataAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[name]; ok {
		return fmt.Errorf("metadata adapter %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Unregister removes an adapter. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, name)
}

// Find returns the adapter registered under name.
func (r *Registry) Find(name string) (MetadataAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, name)
	}
	return a, nil
}

// Names lists registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package swr

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Registry owns a set of entries sharing the same Deps.
type Registry struct {
	deps    Deps
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry returns an empty Registry creating entries with deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, entries: make(map[string]*Entry)}
}

// Register creates an entry, replacing and closing any entry of the same
// name. Entries without a name are returned but not tracked.
func (r *Registry) Register(ctx context.Context, name string, opts ...Option) *Entry {
	e := New(ctx, name, r.deps, opts...)
	if e.Name() == "" {
		return e
	}
	r.mu.Lock()
	prev := r.entries[e.Name()]
	r.entries[e.Name()] = e
	r.mu.Unlock()
	if prev != nil {
		// prev's unregister functions leave the replacement's hooks in place
		prev.Close()
	}
	return e
}

// Get returns the entry called name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[truncateName(name)]
	return e, ok
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) snapshot() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// InvalidateAll invalidates every entry, returning the combined errors.
func (r *Registry) InvalidateAll(ctx context.Context) error {
	var err error
	for _, e := range r.snapshot() {
		err = errors.CombineErrors(err, e.Invalidate(ctx))
	}
	return err
}

// Close closes every entry and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()
	for _, e := range entries {
		e.Close()
	}
	return nil
}

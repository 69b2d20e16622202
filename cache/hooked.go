package cache

import (
	"context"
	"sync"
	"time"
)

// Override is the answer of a pre-read hook. NoOverride lets the store apply
// its own expiration handling.
type Override struct {
	record Record
	ok     bool
}

// NoOverride is the pre-read answer that does not intercept the read.
var NoOverride = Override{}

// Serve returns an Override that answers the read with rec, expired or not.
func Serve(rec Record) Override {
	return Override{record: rec, ok: true}
}

// PreReadFunc is called before Get reads key from the backing store.
type PreReadFunc func(ctx context.Context, key string) Override

type preReadHook struct {
	fn PreReadFunc
}

// Hooked is a Store with a per-key pre-read interception point.
type Hooked struct {
	Store
	mu    sync.RWMutex
	hooks map[string]*preReadHook
	now   func() time.Time
}

// NewHooked wraps store so that Get consults registered pre-read hooks.
func NewHooked(store Store, opts ...Option) *Hooked {
	cfg := applyOptions(opts)
	return &Hooked{
		Store: store,
		hooks: make(map[string]*preReadHook),
		now:   cfg.now,
	}
}

// OnPreRead registers fn for key, replacing any earlier hook. The returned
// function removes the registration; it does nothing if fn was replaced since.
func (h *Hooked) OnPreRead(key string, fn PreReadFunc) func() {
	hook := &preReadHook{fn: fn}
	h.mu.Lock()
	h.hooks[key] = hook
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if h.hooks[key] == hook {
			delete(h.hooks, key)
		}
		h.mu.Unlock()
	}
}

// Get returns the hook's record when it intercepts the read, classified as
// Fresh or Stale, and otherwise defers to the wrapped store.
func (h *Hooked) Get(ctx context.Context, key string) (Lookup, error) {
	h.mu.RLock()
	hook := h.hooks[key]
	h.mu.RUnlock()
	if hook != nil {
		if ov := hook.fn(ctx, key); ov.ok {
			return lookupOf(ov.record, h.now()), nil
		}
	}
	return h.Store.Get(ctx, key)
}

package content

import (
	"context"
	"sync"
)

// MutationContext describes who or what caused a mutation.
type MutationContext struct {
	// Autosave is set for draft autosave passes.
	Autosave bool `msgpack:"autosave,omitempty"`
	// Background is set when the mutation runs from a scheduled job.
	Background bool `msgpack:"background,omitempty"`
	// UserID is the acting user, empty for unattended mutations.
	UserID string `msgpack:"user_id,omitempty"`
}

// SavedEvent is emitted after an item is created or updated.
type SavedEvent struct {
	Item    Item            `msgpack:"item"`
	Update  bool            `msgpack:"update"`
	Context MutationContext `msgpack:"context"`
}

// DeletedEvent is emitted after an item is removed.
type DeletedEvent struct {
	ID      string          `msgpack:"id"`
	Item    Item            `msgpack:"item"`
	Context MutationContext `msgpack:"context"`
}

type SavedHandler func(ctx context.Context, ev SavedEvent)

type DeletedHandler func(ctx context.Context, ev DeletedEvent)

// Notifier delivers content mutation events. The returned functions remove
// the registration.
type Notifier interface {
	OnSaved(h SavedHandler) (unsubscribe func())
	OnDeleted(h DeletedHandler) (unsubscribe func())
}

// Broadcaster is an in-process Notifier. Handlers run synchronously on the
// publishing goroutine in registration order.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  int
	saved   map[int]SavedHandler
	deleted map[int]DeletedHandler
	order   []int
}

var _ Notifier = (*Broadcaster)(nil)

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		saved:   make(map[int]SavedHandler),
		deleted: make(map[int]DeletedHandler),
	}
}

func (b *Broadcaster) register(add func(id int)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	add(id)
	b.order = append(b.order, id)
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.saved, id)
			delete(b.deleted, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

func (b *Broadcaster) OnSaved(h SavedHandler) func() {
	return b.register(func(id int) { b.saved[id] = h })
}

func (b *Broadcaster) OnDeleted(h DeletedHandler) func() {
	return b.register(func(id int) { b.deleted[id] = h })
}

// Handlers returns the number of registered handlers.
func (b *Broadcaster) Handlers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// PublishSaved delivers ev to every saved handler.
func (b *Broadcaster) PublishSaved(ctx context.Context, ev SavedEvent) {
	b.mu.RLock()
	handlers := make([]SavedHandler, 0, len(b.saved))
	for _, id := range b.order {
		if h, ok := b.saved[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

// PublishDeleted delivers ev to every deleted handler.
func (b *Broadcaster) PublishDeleted(ctx context.Context, ev DeletedEvent) {
	b.mu.RLock()
	handlers := make([]DeletedHandler, 0, len(b.deleted))
	for _, id := range b.order {
		if h, ok := b.deleted[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

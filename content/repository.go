package content

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when an item does not exist.
var ErrNotFound = errors.New("content: not found")

// Repository is an in-memory content source. It answers queries and
// notifies its subscribers about every save and delete.
type Repository struct {
	*Broadcaster
	mu    sync.RWMutex
	items map[string]Item
	now   func() time.Time
}

var _ Querier = (*Repository)(nil)

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		Broadcaster: NewBroadcaster(),
		items:       make(map[string]Item),
		now:         time.Now,
	}
}

// Save creates or updates item and publishes a SavedEvent.
func (r *Repository) Save(ctx context.Context, item Item, mc MutationContext) error {
	if item.ID == "" {
		return errors.New("content: item id is required")
	}
	if item.Modified.IsZero() {
		item.Modified = r.now()
	}
	r.mu.Lock()
	_, update := r.items[item.ID]
	r.items[item.ID] = item
	r.mu.Unlock()
	r.PublishSaved(ctx, SavedEvent{Item: item, Update: update, Context: mc})
	return nil
}

// Delete removes the item and publishes a DeletedEvent.
func (r *Repository) Delete(ctx context.Context, id string, mc MutationContext) error {
	r.mu.Lock()
	item, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrNotFound, "delete %q", id)
	}
	r.PublishDeleted(ctx, DeletedEvent{ID: id, Item: item, Context: mc})
	return nil
}

// Item returns the item with id.
func (r *Repository) Item(id string) (Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return Item{}, errors.Wrapf(ErrNotFound, "item %q", id)
	}
	return item, nil
}

// Query returns matching items, newest first unless the query says otherwise.
func (r *Repository) Query(ctx context.Context, q Query) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Item, 0, len(r.items))
	for _, item := range r.items {
		if q.Matches(item) {
			out = append(out, item)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Item) int {
		var c int
		switch q.OrderBy {
		case OrderByTitle:
			c = strings.Compare(a.Title, b.Title)
		default:
			c = a.Modified.Compare(b.Modified)
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if !q.Asc {
			c = -c
		}
		return c
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

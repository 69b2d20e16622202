package cache

import (
	"context"
	"time"
)

type compositeCache struct {
	caches []Store
}

var _ Store = (*compositeCache)(nil)

// NewComposite returns a Store that chains multiple stores together.
// Get and GetRaw check stores in order and return the first hit.
// Writes and deletes go to every store.
// At least one store must be provided; panics if empty.
func NewComposite(caches ...Store) Store {
	if len(caches) == 0 {
		panic("cache: NewComposite requires at least one store")
	}
	return &compositeCache{caches: caches}
}

func (c *compositeCache) Get(ctx context.Context, key string) (Lookup, error) {
	for _, cache := range c.caches {
		res, err := cache.Get(ctx, key)
		if err != nil {
			return Lookup{}, err
		}
		if res.Found() {
			return res, nil
		}
	}
	return Lookup{}, nil
}

func (c *compositeCache) GetRaw(ctx context.Context, key string) (Record, bool, error) {
	for _, cache := range c.caches {
		rec, ok, err := cache.GetRaw(ctx, key)
		if err != nil {
			return Record{}, false, err
		}
		if ok {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

func (c *compositeCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	var firstErr error
	for _, cache := range c.caches {
		if err := cache.Set(ctx, key, val, ttl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeCache) Delete(ctx context.Context, key string) (bool, error) {
	anyFound := false
	for _, cache := range c.caches {
		found, err := cache.Delete(ctx, key)
		if err != nil {
			return anyFound, err
		}
		anyFound = anyFound || found
	}
	return anyFound, nil
}

// Purge returns the largest count removed from any single layer, since the
// layers hold copies of the same keys.
func (c *compositeCache) Purge(ctx context.Context, prefix string) (int, error) {
	var most int
	for _, cache := range c.caches {
		n, err := cache.Purge(ctx, prefix)
		if err != nil {
			return most, err
		}
		most = max(most, n)
	}
	return most, nil
}

func (c *compositeCache) Close() error {
	var firstErr error
	for _, cache := range c.caches {
		if err := cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

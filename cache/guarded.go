package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-swr/resilience"
	"github.com/cockroachdb/errors"
)

type guardedCache struct {
	store   Store
	breaker *resilience.CircuitBreaker
}

var _ Store = (*guardedCache)(nil)

// NewGuarded wraps store in a circuit breaker. Once the store has failed
// config.MaxFailures times in a row, calls fail fast with ErrStoreUnavailable
// until the breaker's timeout elapses.
func NewGuarded(store Store, config resilience.CircuitBreakerConfig) Store {
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return errors.Is(err, ErrStoreUnavailable) }
	}
	return &guardedCache{store: store, breaker: resilience.NewCircuitBreaker(config)}
}

func (g *guardedCache) do(ctx context.Context, fn func(context.Context) error) error {
	err := g.breaker.Execute(ctx, fn)
	if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
		return errors.Mark(err, ErrStoreUnavailable)
	}
	return err
}

func (g *guardedCache) Get(ctx context.Context, key string) (res Lookup, err error) {
	err = g.do(ctx, func(ctx context.Context) (err error) {
		res, err = g.store.Get(ctx, key)
		return err
	})
	return res, err
}

func (g *guardedCache) GetRaw(ctx context.Context, key string) (rec Record, ok bool, err error) {
	err = g.do(ctx, func(ctx context.Context) (err error) {
		rec, ok, err = g.store.GetRaw(ctx, key)
		return err
	})
	return rec, ok, err
}

func (g *guardedCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	return g.do(ctx, func(ctx context.Context) error {
		return g.store.Set(ctx, key, val, ttl)
	})
}

func (g *guardedCache) Delete(ctx context.Context, key string) (found bool, err error) {
	err = g.do(ctx, func(ctx context.Context) (err error) {
		found, err = g.store.Delete(ctx, key)
		return err
	})
	return found, err
}

func (g *guardedCache) Purge(ctx context.Context, prefix string) (n int, err error) {
	err = g.do(ctx, func(ctx context.Context) (err error) {
		n, err = g.store.Purge(ctx, prefix)
		return err
	})
	return n, err
}

func (g *guardedCache) Close() error {
	return g.store.Close()
}

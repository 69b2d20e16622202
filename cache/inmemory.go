package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type inMemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[string]*Record
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Store = (*inMemoryCache)(nil)

func (c *inMemoryCache) Get(_ context.Context, key string) (Lookup, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rec, ok := c.cache[key]
	if !ok {
		return Lookup{}, nil
	}
	if rec.Expired(c.cfg.now()) {
		delete(c.cache, key)
		return Lookup{}, nil
	}
	return Lookup{State: Fresh, Value: rec.Value, ExpiresAt: rec.ExpiresAt}, nil
}

func (c *inMemoryCache) GetRaw(_ context.Context, key string) (Record, bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rec, ok := c.cache[key]
	if !ok {
		return Record{}, false, nil
	}
	return *rec, true, nil
}

func (c *inMemoryCache) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	rec := &Record{Value: val, ExpiresAt: expiresAt(c.cfg.now(), ttl)}
	c.mutex.Lock()
	c.cache[key] = rec
	c.mutex.Unlock()
	return nil
}

func (c *inMemoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.cache[key]
	delete(c.cache, key)
	return ok, nil
}

func (c *inMemoryCache) Purge(_ context.Context, prefix string) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var n int
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			delete(c.cache, key)
			n++
		}
	}
	return n, nil
}

func (c *inMemoryCache) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

// sweep drops records that have been expired for longer than the retention window.
func (c *inMemoryCache) sweep() {
	cutoff := c.cfg.now().Add(-c.cfg.retention)
	c.mutex.Lock()
	for key, rec := range c.cache {
		if rec.Expired(cutoff) {
			delete(c.cache, key)
		}
	}
	c.mutex.Unlock()
}

func (c *inMemoryCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// NewInMemory returns a new in-memory Store implementation.
func NewInMemory(parent context.Context, opts ...Option) Store {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[string]*Record),
		cfg:    cfg,
	}
	if cfg.expiryCheck > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c
}

package config

import (
	"context"
	"time"

	"github.com/agentuity/go-swr/cache"
	"github.com/agentuity/go-swr/content"
	"github.com/agentuity/go-swr/eventing"
	"github.com/agentuity/go-swr/logger"
	"github.com/agentuity/go-swr/resilience"
	"github.com/agentuity/go-swr/schedule"
	"github.com/agentuity/go-swr/swr"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Runtime holds the collaborators built from a Config.
type Runtime struct {
	Config *Config
	Logger logger.Logger
	Redis  redis.UniversalClient
	Store  *cache.Hooked
	Jobs   schedule.Queue
	// Events is set when events are enabled.
	Events  eventing.Client
	closers []func() error
}

// NewLogger returns the logger described by c.
func (c LogConfig) NewLogger() logger.Logger {
	level := logger.ParseLevel(c.Level, logger.GetLevelFromEnv())
	if c.Format == "json" {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}

func (c StoreConfig) options() []cache.Option {
	var opts []cache.Option
	if c.Prefix != "" {
		opts = append(opts, cache.WithPrefix(c.Prefix))
	}
	if c.Retention != nil {
		opts = append(opts, cache.WithRetention(time.Duration(*c.Retention)))
	}
	if c.QueryTimeout != nil {
		opts = append(opts, cache.WithQueryTimeout(time.Duration(*c.QueryTimeout)))
	}
	if c.ExpiryCheck != nil {
		opts = append(opts, cache.WithExpiryCheck(time.Duration(*c.ExpiryCheck)))
	}
	return opts
}

func (c QueueConfig) options() []schedule.Option {
	var opts []schedule.Option
	if c.Prefix != "" {
		opts = append(opts, schedule.WithPrefix(c.Prefix))
	}
	if c.PollInterval != nil {
		opts = append(opts, schedule.WithPollInterval(time.Duration(*c.PollInterval)))
	}
	if c.Lease != nil {
		opts = append(opts, schedule.WithLease(time.Duration(*c.Lease)))
	}
	return opts
}

func (c *BreakerConfig) config() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	if c.MaxFailures > 0 {
		cfg.MaxFailures = c.MaxFailures
	}
	if c.Timeout > 0 {
		cfg.Timeout = time.Duration(c.Timeout)
	}
	if c.SuccessThreshold > 0 {
		cfg.SuccessThreshold = c.SuccessThreshold
	}
	return cfg
}

// Build opens every backend c names. On error anything already opened is closed.
func Build(ctx context.Context, c *Config, log logger.Logger) (*Runtime, error) {
	if log == nil {
		log = c.Log.NewLogger()
	}
	r := &Runtime{Config: c, Logger: log}
	if err := r.build(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) build(ctx context.Context) error {
	c := r.Config
	if c.usesRedis() {
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "config: redis.url")
		}
		client := redis.NewClient(opts)
		r.Redis = client
		r.closers = append(r.closers, client.Close)
	}

	var base cache.Store
	switch c.Store.Backend {
	case BackendRedis:
		base = cache.NewRedis(r.Redis, c.Store.options()...)
	case BackendSQLite:
		opts := append(c.Store.options(), cache.WithLogger(r.Logger.WithPrefix("[sqlite]")))
		s, err := cache.NewSQLite(ctx, c.Store.Path, opts...)
		if err != nil {
			return err
		}
		base = s
	default:
		base = cache.NewInMemory(ctx, c.Store.options()...)
	}
	if c.Store.Breaker != nil {
		base = cache.NewGuarded(base, c.Store.Breaker.config())
	}
	if c.Store.Tiered && c.Store.Backend != BackendMemory {
		base = cache.NewComposite(cache.NewInMemory(ctx, c.Store.options()...), base)
	}
	r.Store = cache.NewHooked(base)
	r.closers = append(r.closers, r.Store.Close)

	switch c.Queue.Backend {
	case BackendRedis:
		r.Jobs = schedule.NewRedis(ctx, r.Logger, r.Redis, c.Queue.options()...)
	default:
		r.Jobs = schedule.NewInMemory(ctx, r.Logger, c.Queue.options()...)
	}
	r.closers = append(r.closers, r.Jobs.Close)

	if c.Events.Enabled {
		r.Events = eventing.NewRedisClient(ctx, r.Logger, r.Redis)
		r.closers = append(r.closers, r.Events.Close)
	}
	r.Logger.Debug("runtime ready: store=%s queue=%s events=%v", c.Store.Backend, c.Queue.Backend, c.Events.Enabled)
	return nil
}

// Notifier returns the notifier entries subscribe to. With events enabled it
// is fed by mutation events from every node, and local mutations published on
// local are forwarded to them. Without events local is returned as-is.
func (r *Runtime) Notifier(ctx context.Context, local content.Notifier) (content.Notifier, error) {
	if r.Events == nil {
		return local, nil
	}
	bridge, err := content.NewEventBridge(ctx, r.Logger, r.Events)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, bridge.Close)
	stop := content.Forward(local, r.Events, r.Logger)
	r.closers = append(r.closers, func() error { stop(); return nil })
	return bridge, nil
}

// Registry registers every configured entry against the runtime's store and
// queue.
func (r *Runtime) Registry(ctx context.Context, notifier content.Notifier, querier content.Querier, metrics swr.Metrics) *swr.Registry {
	reg := swr.NewRegistry(swr.Deps{
		Store:    r.Store,
		Jobs:     r.Jobs,
		Notifier: notifier,
		Querier:  querier,
		Logger:   r.Logger,
		Metrics:  metrics,
	})
	for _, e := range r.Config.Entries {
		reg.Register(ctx, e.Name, e.Options()...)
	}
	r.closers = append(r.closers, reg.Close)
	return reg
}

// Close closes everything Build and the helpers opened, newest first.
func (r *Runtime) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, r.closers[i]())
	}
	r.closers = nil
	return err
}

package swr

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/go-swr/cache"
	"github.com/agentuity/go-swr/content"
	"github.com/agentuity/go-swr/logger"
	"github.com/agentuity/go-swr/schedule"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Store is a cache.Store with a pre-read interception point, as provided by
// cache.Hooked.
type Store interface {
	cache.Store
	OnPreRead(key string, fn cache.PreReadFunc) (unregister func())
}

var _ Store = (*cache.Hooked)(nil)

// Deps are the collaborators an Entry registers with. Only Store is needed
// for an entry to persist; a nil Jobs disables background regeneration, a nil
// Notifier disables invalidation and a nil Querier makes query computes fail.
type Deps struct {
	Store    Store
	Jobs     schedule.Queue
	Notifier content.Notifier
	Querier  content.Querier
	Logger   logger.Logger
	Metrics  Metrics
}

// JobPrefix prefixes the name of every regeneration job.
const JobPrefix = "swr:regenerate:"

// Entry is a named stale-while-revalidate cache entry.
type Entry struct {
	name             string
	kind             Kind
	compute          ComputeFunc
	alwaysServeStale bool
	store            Store
	jobs             schedule.Queue
	notifier         content.Notifier
	querier          content.Querier
	logger           logger.Logger
	metrics          Metrics
	now              func() time.Time
	group            singleflight.Group

	mu         sync.RWMutex
	ttl        time.Duration
	query      content.Query
	current    any
	hasCurrent bool
	raw        cache.Record
	hasRaw     bool

	unregister []func()
	closeOnce  sync.Once
}

// New creates the entry called name and registers it with deps. Construction
// never fails: an empty name or a missing store yields an entry that keeps
// its value in memory only, and errors while resolving the initial value are
// logged and retried by the next Resolve.
func New(ctx context.Context, name string, deps Deps, opts ...Option) *Entry {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	name = truncateName(name)
	e := &Entry{
		name:             name,
		kind:             cfg.kind,
		compute:          cfg.compute,
		alwaysServeStale: cfg.alwaysServeStale,
		store:            deps.Store,
		jobs:             deps.Jobs,
		notifier:         deps.Notifier,
		querier:          deps.Querier,
		logger:           log.With(map[string]interface{}{"component": "swr", "entry": name}),
		metrics:          metrics,
		now:              cfg.now,
		ttl:              NormalizeTTL(cfg.ttl),
		query:            cfg.query,
	}
	if e.name == "" {
		e.logger.Error("%s: entry has no name, it will not be stored or registered", ErrConfiguration)
		e.store = nil
	} else if e.store == nil {
		e.logger.Warn("%s: no store configured, the value is kept in memory only", ErrConfiguration)
	}
	if e.kind == KindTaxonomy && e.query.Taxonomy == "" && cfg.queryParams.Taxonomy == "" {
		e.logger.Warn("%s: taxonomy entry has no taxonomy, every save invalidates it", ErrConfiguration)
	}

	if cfg.hasValue {
		if err := e.SetValue(ctx, cfg.value, true); err != nil {
			e.logger.Warn("failed to store initial value: %s", err)
		}
	}
	if e.kind.queryBased() && !cfg.queryParams.IsZero() {
		e.query = e.query.Merge(cfg.queryParams)
	}
	if cfg.autoCompute {
		e.interceptRead(ctx)
		if rec, ok := e.rawRecord(); ok {
			e.setCurrent(rec.Value)
		}
	}
	if _, ok := e.Current(); !ok {
		if _, err := e.Resolve(ctx, false); err != nil {
			e.logger.Warn("failed to resolve initial value: %s", err)
		}
	}
	e.register()
	return e
}

func (e *Entry) persistent() bool {
	return e.store != nil
}

func (e *Entry) register() {
	if !e.persistent() {
		return
	}
	e.unregister = append(e.unregister, e.store.OnPreRead(e.name, func(ctx context.Context, _ string) cache.Override {
		return e.interceptRead(ctx)
	}))
	if e.jobs != nil {
		e.unregister = append(e.unregister, e.jobs.OnFire(e.JobName(), func(ctx context.Context, _ string) error {
			_, err := e.Resolve(ctx, true)
			return err
		}))
	}
	if e.kind.queryBased() && e.notifier != nil {
		e.unregister = append(e.unregister,
			e.notifier.OnSaved(e.onSaved),
			e.notifier.OnDeleted(e.onDeleted),
		)
	}
}

// Close removes every registration the entry made. The stored record is kept.
func (e *Entry) Close() error {
	e.closeOnce.Do(func() {
		for i := len(e.unregister) - 1; i >= 0; i-- {
			e.unregister[i]()
		}
		e.unregister = nil
	})
	return nil
}

// Name returns the entry's name after truncation.
func (e *Entry) Name() string {
	return e.name
}

// Kind returns the entry's kind.
func (e *Entry) Kind() Kind {
	return e.kind
}

// JobName returns the name of the entry's regeneration job.
func (e *Entry) JobName() string {
	return JobPrefix + e.name
}

// TTL returns the normalized ttl.
func (e *Entry) TTL() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ttl
}

// SetTTL changes the ttl used by subsequent writes.
func (e *Entry) SetTTL(d time.Duration) {
	e.mu.Lock()
	e.ttl = NormalizeTTL(d)
	e.mu.Unlock()
}

// Query returns the query a query based entry computes from.
func (e *Entry) Query() content.Query {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.query
}

// SetQueryParams merges q over the entry's query. The stored record is left
// alone; call Invalidate to have the next read use the new query.
func (e *Entry) SetQueryParams(q content.Query) {
	e.mu.Lock()
	e.query = e.query.Merge(q)
	e.mu.Unlock()
}

// Current returns the last value the entry resolved, computed or was given.
func (e *Entry) Current() (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current, e.hasCurrent
}

func (e *Entry) setCurrent(v any) {
	e.mu.Lock()
	e.current = v
	e.hasCurrent = true
	e.mu.Unlock()
}

func (e *Entry) rawRecord() (cache.Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.raw, e.hasRaw
}

// SetValue replaces the current value, writing it to the store with the
// entry's ttl when resetStore is true.
func (e *Entry) SetValue(ctx context.Context, v any, resetStore bool) error {
	e.setCurrent(v)
	if !resetStore || !e.persistent() {
		return nil
	}
	return e.store.Set(ctx, e.name, v, e.TTL())
}

// Raw reads the stored record without evaluating its expiration.
func (e *Entry) Raw(ctx context.Context) (cache.Record, bool, error) {
	if !e.persistent() {
		return cache.Record{}, false, nil
	}
	return e.store.GetRaw(ctx, e.name)
}

// Delete removes the stored record. The next Resolve is a true miss.
func (e *Entry) Delete(ctx context.Context) error {
	e.mu.Lock()
	e.raw = cache.Record{}
	e.hasRaw = false
	e.mu.Unlock()
	if !e.persistent() {
		return nil
	}
	_, err := e.store.Delete(ctx, e.name)
	return err
}

// Invalidate deletes the stored record because its source data changed.
func (e *Entry) Invalidate(ctx context.Context) error {
	if err := e.Delete(ctx); err != nil {
		e.logger.Warn("failed to invalidate: %s", err)
		return err
	}
	e.metrics.Invalidated(e.name)
	e.logger.Debug("invalidated")
	return nil
}

// interceptRead answers the store's pre-read hook. With alwaysServeStale the
// raw record is served whether or not it expired and its regeneration is
// scheduled; otherwise the store applies its own expiration. A fresh read
// pre-schedules the refresh, due when the record expires.
func (e *Entry) interceptRead(ctx context.Context) cache.Override {
	if !e.alwaysServeStale || !e.persistent() {
		return cache.NoOverride
	}
	rec, ok, err := e.store.GetRaw(ctx, e.name)
	if err != nil {
		e.logger.Warn("raw read failed, treating as absent: %s", err)
		return cache.NoOverride
	}
	if !ok {
		return cache.NoOverride
	}
	e.mu.Lock()
	e.raw = rec
	e.hasRaw = true
	e.mu.Unlock()
	e.scheduleRegeneration(ctx, rec)
	return cache.Serve(rec)
}

// scheduleRegeneration enqueues the entry's job to run when rec expires, or
// now if it already has. A job already pending makes this a no-op.
func (e *Entry) scheduleRegeneration(ctx context.Context, rec cache.Record) {
	if e.jobs == nil || rec.ExpiresAt.IsZero() {
		return
	}
	due := rec.ExpiresAt
	if now := e.now(); due.Before(now) {
		due = now
	}
	ok, err := e.jobs.ScheduleOnce(ctx, e.JobName(), due)
	if err != nil {
		e.logger.Warn("failed to schedule regeneration: %s", err)
		return
	}
	if ok {
		e.metrics.Scheduled(e.name)
		e.logger.Debug("regeneration scheduled for %s", due.Format(time.RFC3339))
	}
}

// Resolve returns the entry's value. With force it computes a fresh value and
// writes it to the store; this is what the regeneration job runs. Otherwise a
// fresh or stale stored value is returned as-is, and only a true miss computes.
// Values read from serialized backends are returned as msgpack.RawMessage;
// use Value to decode them.
func (e *Entry) Resolve(ctx context.Context, force bool) (any, error) {
	if force {
		return e.regenerate(ctx)
	}
	if !e.persistent() {
		if v, ok := e.Current(); ok {
			return v, nil
		}
		return e.regenerate(ctx)
	}
	res, err := e.store.Get(ctx, e.name)
	switch {
	case err != nil:
		e.logger.Warn("store read failed, treating as a miss: %s", err)
	case res.State == cache.Fresh:
		e.metrics.Hit(e.name)
		e.setCurrent(res.Value)
		return res.Value, nil
	case res.State == cache.Stale:
		e.metrics.StaleServed(e.name)
		e.setCurrent(res.Value)
		return res.Value, nil
	}
	e.metrics.Miss(e.name)
	return e.regenerate(ctx)
}

// regenerate computes and stores a fresh value. Concurrent calls share one
// compute.
func (e *Entry) regenerate(ctx context.Context) (any, error) {
	v, err, _ := e.group.Do(e.name, func() (any, error) {
		ctx, span := tracer.Start(ctx, "swr.regenerate", trace.WithAttributes(
			attribute.String("swr.entry", e.name),
			attribute.String("swr.kind", e.kind.String()),
		))
		defer span.End()

		started := time.Now()
		val, err := e.computeValue(ctx)
		if err != nil {
			e.metrics.ComputeFailed(e.name)
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			return nil, errors.Mark(errors.Wrapf(err, "swr: compute %s", e.name), ErrCompute)
		}
		e.metrics.Computed(e.name, time.Since(started))
		e.setCurrent(val)
		if e.persistent() {
			if err := e.store.Set(ctx, e.name, val, e.TTL()); err != nil {
				e.logger.Warn("failed to store computed value: %s", err)
				span.RecordError(err)
			}
		}
		span.SetStatus(codes.Ok, "computed")
		return val, nil
	})
	return v, err
}

func (e *Entry) computeValue(ctx context.Context) (any, error) {
	if e.kind == KindGeneric {
		if e.compute != nil {
			return e.compute(ctx)
		}
		v, _ := e.Current()
		return v, nil
	}
	if e.querier == nil {
		return nil, errors.New("no content querier configured")
	}
	items, err := e.querier.Query(ctx, e.Query())
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Value resolves e and decodes the result to T.
func Value[T any](ctx context.Context, e *Entry) (T, error) {
	var zero T
	v, err := e.Resolve(ctx, false)
	if err != nil {
		return zero, err
	}
	return cache.Decode[T](v)
}

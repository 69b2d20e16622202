// Package schedule is a single-shot deferred job queue. A job is identified
// by name and at most one run of a name is pending at a time: scheduling a
// job that is already pending, or currently running, is a no-op.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentuity/go-swr/logger"
	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("schedule: queue closed")

// Handler runs a fired job.
type Handler func(ctx context.Context, job string) error

// Queue schedules named single-shot jobs.
type Queue interface {
	// ScheduleOnce enqueues job to fire at due. It returns false when the job
	// is already pending.
	ScheduleOnce(ctx context.Context, job string, due time.Time) (bool, error)
	// OnFire registers the handler run when job fires, replacing any earlier one.
	OnFire(job string, h Handler) (unregister func())
	// Pending reports whether job is scheduled or running.
	Pending(ctx context.Context, job string) (bool, error)
	// RunDue fires every job whose due time has passed and returns how many ran.
	RunDue(ctx context.Context) (int, error)
	// Close stops the background runner.
	Close() error
}

// DefaultPollInterval is how often the background runner looks for due jobs.
const DefaultPollInterval = time.Second

// DefaultLease bounds how long a job counts as pending after its due time if
// its runner disappears before running it.
const DefaultLease = 5 * time.Minute

type config struct {
	pollInterval time.Duration
	lease        time.Duration
	prefix       string
	now          func() time.Time
	onError      func(job string, err error)
}

// Option configures a Queue.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		pollInterval: DefaultPollInterval,
		lease:        DefaultLease,
		prefix:       "swr:jobs",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithPollInterval sets the runner's poll interval. Zero disables the
// background runner; jobs then only fire through RunDue.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) { c.pollInterval = d }
}

// WithLease sets the Redis lease bound, see DefaultLease.
func WithLease(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.lease = d
		}
	}
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithClock replaces time.Now for due-time decisions.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithErrorHandler receives every error returned by a job handler.
func WithErrorHandler(fn func(job string, err error)) Option {
	return func(c *config) { c.onError = fn }
}

type registration struct {
	fn Handler
}

type handlers struct {
	mu sync.RWMutex
	m  map[string]*registration
}

func newHandlers() *handlers {
	return &handlers{m: make(map[string]*registration)}
}

func (h *handlers) add(job string, fn Handler) func() {
	reg := &registration{fn: fn}
	h.mu.Lock()
	h.m[job] = reg
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if h.m[job] == reg {
			delete(h.m, job)
		}
		h.mu.Unlock()
	}
}

func (h *handlers) get(job string) Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if reg := h.m[job]; reg != nil {
		return reg.fn
	}
	return nil
}

// fire runs the handler for job, turning panics into errors.
func (h *handlers) fire(ctx context.Context, log logger.Logger, cfg config, job string) {
	fn := h.get(job)
	if fn == nil {
		log.Warn("job %s fired without a registered handler", job)
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("schedule: job %s panicked: %s", job, fmt.Sprint(r))
			}
		}()
		return fn(ctx, job)
	}()
	if err != nil {
		log.Error("job %s failed: %s", job, err)
		if cfg.onError != nil {
			cfg.onError(job, err)
		}
		return
	}
	log.Debug("job %s completed", job)
}

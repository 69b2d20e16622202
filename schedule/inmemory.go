package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentuity/go-swr/logger"
)

type memoryQueue struct {
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	mu        sync.Mutex
	pending   map[string]time.Time
	running   map[string]bool
	handlers  *handlers
	cfg       config
	logger    logger.Logger
}

var _ Queue = (*memoryQueue)(nil)

// NewInMemory returns a process-local Queue.
func NewInMemory(parent context.Context, log logger.Logger, opts ...Option) Queue {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	q := &memoryQueue{
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]time.Time),
		running:  make(map[string]bool),
		handlers: newHandlers(),
		cfg:      cfg,
		logger:   log.With(map[string]interface{}{"component": "schedule"}),
	}
	if cfg.pollInterval > 0 {
		q.waitGroup.Add(1)
		go q.run()
	}
	return q
}

func (q *memoryQueue) ScheduleOnce(_ context.Context, job string, due time.Time) (bool, error) {
	if q.ctx.Err() != nil {
		return false, ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[job]; ok || q.running[job] {
		return false, nil
	}
	q.pending[job] = due
	return true, nil
}

func (q *memoryQueue) OnFire(job string, h Handler) func() {
	return q.handlers.add(job, h)
}

func (q *memoryQueue) Pending(_ context.Context, job string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[job]
	return ok || q.running[job], nil
}

func (q *memoryQueue) claimDue() []string {
	now := q.cfg.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []string
	for job, at := range q.pending {
		if !at.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return q.pending[due[i]].Before(q.pending[due[j]])
	})
	for _, job := range due {
		delete(q.pending, job)
		q.running[job] = true
	}
	return due
}

func (q *memoryQueue) RunDue(ctx context.Context) (int, error) {
	jobs := q.claimDue()
	for _, job := range jobs {
		q.handlers.fire(ctx, q.logger, q.cfg, job)
		q.mu.Lock()
		delete(q.running, job)
		q.mu.Unlock()
	}
	return len(jobs), nil
}

func (q *memoryQueue) run() {
	defer q.waitGroup.Done()
	ticker := time.NewTicker(q.cfg.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.RunDue(q.ctx)
		}
	}
}

func (q *memoryQueue) Close() error {
	q.once.Do(func() {
		q.cancel()
		q.waitGroup.Wait()
	})
	return nil
}

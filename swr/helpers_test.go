package swr

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-swr/cache"
	"github.com/agentuity/go-swr/content"
	"github.com/agentuity/go-swr/logger"
	"github.com/agentuity/go-swr/schedule"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingQuerier struct {
	mu    sync.Mutex
	src   content.Querier
	calls int
	err   error
	gate  chan struct{}
}

func (q *countingQuerier) Query(ctx context.Context, query content.Query) ([]content.Item, error) {
	q.mu.Lock()
	q.calls++
	err, gate := q.err, q.gate
	q.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return q.src.Query(ctx, query)
}

func (q *countingQuerier) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func (q *countingQuerier) Fail(err error) {
	q.mu.Lock()
	q.err = err
	q.mu.Unlock()
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) inc(event, entry string) {
	m.mu.Lock()
	m.counts[event+":"+entry]++
	m.mu.Unlock()
}

func (m *recordingMetrics) Count(event, entry string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[event+":"+entry]
}

func (m *recordingMetrics) Hit(entry string)                       { m.inc("hit", entry) }
func (m *recordingMetrics) StaleServed(entry string)               { m.inc("stale", entry) }
func (m *recordingMetrics) Miss(entry string)                      { m.inc("miss", entry) }
func (m *recordingMetrics) Computed(entry string, _ time.Duration) { m.inc("computed", entry) }
func (m *recordingMetrics) ComputeFailed(entry string)             { m.inc("compute_failed", entry) }
func (m *recordingMetrics) Scheduled(entry string)                 { m.inc("scheduled", entry) }
func (m *recordingMetrics) Invalidated(entry string)               { m.inc("invalidated", entry) }

type harness struct {
	ctx       context.Context
	clock     *testClock
	backend   cache.Store
	store     *cache.Hooked
	jobs      schedule.Queue
	repo      *content.Repository
	querier   *countingQuerier
	log       *logger.TestLogger
	metrics   *recordingMetrics
	jobErrors chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	clock := newTestClock()
	log := logger.NewTestLogger()
	backend := cache.NewInMemory(ctx, cache.WithExpiryCheck(0), cache.WithClock(clock.Now))
	jobErrors := make(chan error, 16)
	jobs := schedule.NewInMemory(ctx, log,
		schedule.WithPollInterval(0),
		schedule.WithClock(clock.Now),
		schedule.WithErrorHandler(func(job string, err error) { jobErrors <- err }),
	)
	repo := content.NewRepository()
	h := &harness{
		ctx:       ctx,
		clock:     clock,
		backend:   backend,
		store:     cache.NewHooked(backend, cache.WithClock(clock.Now)),
		jobs:      jobs,
		repo:      repo,
		querier:   &countingQuerier{src: repo},
		log:       log,
		metrics:   newRecordingMetrics(),
		jobErrors: jobErrors,
	}
	t.Cleanup(func() {
		jobs.Close()
		backend.Close()
	})
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Store:    h.store,
		Jobs:     h.jobs,
		Notifier: h.repo,
		Querier:  h.querier,
		Logger:   h.log,
		Metrics:  h.metrics,
	}
}

func (h *harness) newEntry(t *testing.T, name string, opts ...Option) *Entry {
	t.Helper()
	opts = append([]Option{WithClock(h.clock.Now)}, opts...)
	e := New(h.ctx, name, h.deps(), opts...)
	t.Cleanup(func() { e.Close() })
	return e
}

// seed saves n published items of type typ, oldest first.
func (h *harness) seed(t *testing.T, typ string, n int) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, h.repo.Save(h.ctx, content.Item{
			ID:       fmt.Sprintf("%s-%02d", typ, i),
			Type:     typ,
			Status:   content.StatusPublished,
			Title:    fmt.Sprintf("%s %d", typ, i),
			Modified: base.Add(time.Duration(i) * time.Minute),
		}, content.MutationContext{UserID: "editor"}))
	}
}

func itemIDs(t *testing.T, v any) []string {
	t.Helper()
	items, err := cache.Decode[[]content.Item](v)
	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

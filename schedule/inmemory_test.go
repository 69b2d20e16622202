package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-swr/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
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

// queueSuite runs the behaviour every Queue implementation shares.
func queueSuite(t *testing.T, newQueue func(t *testing.T, clock *testClock, opts ...Option) Queue) {
	t.Run("schedule once", func(t *testing.T) {
		ctx := context.Background()
		clock := newTestClock()
		q := newQueue(t, clock)
		defer q.Close()

		var fired []string
		q.OnFire("swr:regenerate:home-feed", func(ctx context.Context, job string) error {
			fired = append(fired, job)
			return nil
		})

		ok, err := q.ScheduleOnce(ctx, "swr:regenerate:home-feed", clock.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = q.ScheduleOnce(ctx, "swr:regenerate:home-feed", clock.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		pending, err := q.Pending(ctx, "swr:regenerate:home-feed")
		require.NoError(t, err)
		assert.True(t, pending)

		n, err := q.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Empty(t, fired)

		clock.Advance(time.Minute)
		n, err = q.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"swr:regenerate:home-feed"}, fired)

		pending, err = q.Pending(ctx, "swr:regenerate:home-feed")
		require.NoError(t, err)
		assert.False(t, pending)

		ok, err = q.ScheduleOnce(ctx, "swr:regenerate:home-feed", clock.Now())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("pending while running", func(t *testing.T) {
		ctx := context.Background()
		clock := newTestClock()
		q := newQueue(t, clock)
		defer q.Close()

		var during bool
		q.OnFire("job", func(ctx context.Context, job string) error {
			var err error
			during, err = q.Pending(ctx, job)
			if err != nil {
				return err
			}
			ok, err := q.ScheduleOnce(ctx, job, clock.Now())
			if ok {
				return errors.New("rescheduled while running")
			}
			return err
		})
		_, err := q.ScheduleOnce(ctx, "job", clock.Now())
		require.NoError(t, err)
		n, err := q.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.True(t, during)
	})

	t.Run("handler errors", func(t *testing.T) {
		ctx := context.Background()
		clock := newTestClock()
		var failed []string
		q := newQueue(t, clock, WithErrorHandler(func(job string, err error) {
			failed = append(failed, job+": "+err.Error())
		}))
		defer q.Close()

		q.OnFire("bad", func(ctx context.Context, job string) error {
			return errors.New("compute failed")
		})
		q.OnFire("worse", func(ctx context.Context, job string) error {
			panic("boom")
		})
		_, err := q.ScheduleOnce(ctx, "bad", clock.Now())
		require.NoError(t, err)
		_, err = q.ScheduleOnce(ctx, "worse", clock.Now().Add(-time.Second))
		require.NoError(t, err)

		n, err := q.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.Len(t, failed, 2)
		assert.ElementsMatch(t, []string{"bad: compute failed", "worse: schedule: job worse panicked: boom"}, failed)

		pending, err := q.Pending(ctx, "bad")
		require.NoError(t, err)
		assert.False(t, pending)
	})

	t.Run("unregister", func(t *testing.T) {
		ctx := context.Background()
		clock := newTestClock()
		q := newQueue(t, clock)
		defer q.Close()

		var calls int
		stop := q.OnFire("job", func(ctx context.Context, job string) error {
			calls++
			return nil
		})
		stop()
		_, err := q.ScheduleOnce(ctx, "job", clock.Now())
		require.NoError(t, err)
		n, err := q.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 0, calls)
	})

	t.Run("replaced handler keeps working", func(t *testing.T) {
		ctx := context.Background()
		clock := newTestClock()
		q := newQueue(t, clock)
		defer q.Close()

		var got string
		stopOld := q.OnFire("job", func(ctx context.Context, job string) error {
			got = "old"
			return nil
		})
		q.OnFire("job", func(ctx context.Context, job string) error {
			got = "new"
			return nil
		})
		stopOld()
		_, err := q.ScheduleOnce(ctx, "job", clock.Now())
		require.NoError(t, err)
		_, err = q.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, "new", got)
	})

	t.Run("closed", func(t *testing.T) {
		clock := newTestClock()
		q := newQueue(t, clock)
		require.NoError(t, q.Close())
		require.NoError(t, q.Close())
		_, err := q.ScheduleOnce(context.Background(), "job", clock.Now())
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestInMemoryQueue(t *testing.T) {
	queueSuite(t, func(t *testing.T, clock *testClock, opts ...Option) Queue {
		opts = append([]Option{WithPollInterval(0), WithClock(clock.Now)}, opts...)
		return NewInMemory(context.Background(), logger.NewTestLogger(), opts...)
	})
}

func TestInMemoryQueueBackgroundRunner(t *testing.T) {
	q := NewInMemory(context.Background(), logger.NewTestLogger(), WithPollInterval(10*time.Millisecond))
	defer q.Close()

	fired := make(chan string, 1)
	q.OnFire("job", func(ctx context.Context, job string) error {
		fired <- job
		return nil
	})
	ok, err := q.ScheduleOnce(context.Background(), "job", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case job := <-fired:
		assert.Equal(t, "job", job)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}
}

func TestInMemoryQueueLogsMissingHandler(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	q := NewInMemory(ctx, log, WithPollInterval(0))
	defer q.Close()

	_, err := q.ScheduleOnce(ctx, "orphan", time.Now().Add(-time.Second))
	require.NoError(t, err)
	_, err = q.RunDue(ctx)
	require.NoError(t, err)
	assert.True(t, log.Has("WARNING", "job orphan fired without a registered handler"))
}

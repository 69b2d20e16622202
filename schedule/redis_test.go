package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/agentuity/go-swr/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisQueue(t *testing.T) {
	queueSuite(t, func(t *testing.T, clock *testClock, opts ...Option) Queue {
		_, client := newTestRedis(t)
		opts = append([]Option{WithPollInterval(0), WithClock(clock.Now)}, opts...)
		return NewRedis(context.Background(), logger.NewTestLogger(), client, opts...)
	})
}

func TestRedisQueueSharedAcrossRunners(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	clock := newTestClock()
	a := NewRedis(ctx, logger.NewTestLogger(), client, WithPollInterval(0), WithClock(clock.Now))
	b := NewRedis(ctx, logger.NewTestLogger(), client, WithPollInterval(0), WithClock(clock.Now))
	defer a.Close()
	defer b.Close()

	var firedA, firedB int
	a.OnFire("job", func(ctx context.Context, job string) error { firedA++; return nil })
	b.OnFire("job", func(ctx context.Context, job string) error { firedB++; return nil })

	ok, err := a.ScheduleOnce(ctx, "job", clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.ScheduleOnce(ctx, "job", clock.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := b.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = a.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, firedA)
	assert.Equal(t, 1, firedB)
}

func TestRedisQueueLeaseExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	clock := newTestClock()
	q := NewRedis(ctx, logger.NewTestLogger(), client, WithPollInterval(0), WithClock(clock.Now), WithLease(time.Minute), WithPrefix("jobs"))
	defer q.Close()

	ok, err := q.ScheduleOnce(ctx, "job", clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("jobs:lease:job"))
	assert.Greater(t, mr.TTL("jobs:lease:job"), time.Hour)

	// a runner that never came back leaves the job unclaimable until the lease lapses
	mr.FastForward(time.Hour + 2*time.Minute)
	pending, err := q.Pending(ctx, "job")
	require.NoError(t, err)
	assert.False(t, pending)
	ok, err = q.ScheduleOnce(ctx, "job", clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

package schedule

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/agentuity/go-swr/logger"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// The Redis queue keeps due jobs in a sorted set scored by due time in unix
// milliseconds. A lease key per job marks it pending from scheduling until its
// handler returns; the lease expires on its own if no runner ever fires it.
type redisQueue struct {
	rdb       redis.UniversalClient
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	handlers  *handlers
	cfg       config
	logger    logger.Logger
}

var _ Queue = (*redisQueue)(nil)

// NewRedis returns a Queue shared by every runner using the same Redis and
// prefix. The caller owns rdb.
func NewRedis(parent context.Context, log logger.Logger, rdb redis.UniversalClient, opts ...Option) Queue {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	q := &redisQueue{
		rdb:      rdb,
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		handlers: newHandlers(),
		cfg:      cfg,
		logger:   log.With(map[string]interface{}{"component": "schedule", "runner": id}),
	}
	if cfg.pollInterval > 0 {
		q.waitGroup.Add(1)
		go q.run()
	}
	return q
}

func (q *redisQueue) dueKey() string {
	return q.cfg.prefix + ":due"
}

func (q *redisQueue) leaseKey(job string) string {
	return q.cfg.prefix + ":lease:" + job
}

func (q *redisQueue) ScheduleOnce(ctx context.Context, job string, due time.Time) (bool, error) {
	if q.ctx.Err() != nil {
		return false, ErrClosed
	}
	lease := q.cfg.lease
	if wait := due.Sub(q.cfg.now()); wait > 0 {
		lease += wait
	}
	ok, err := q.rdb.SetNX(ctx, q.leaseKey(job), q.id, lease).Result()
	if err != nil {
		return false, errors.Wrapf(err, "schedule: lease %s", job)
	}
	if !ok {
		return false, nil
	}
	if err := q.rdb.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(due.UnixMilli()), Member: job}).Err(); err != nil {
		q.rdb.Del(ctx, q.leaseKey(job))
		return false, errors.Wrapf(err, "schedule: enqueue %s", job)
	}
	return true, nil
}

func (q *redisQueue) OnFire(job string, h Handler) func() {
	return q.handlers.add(job, h)
}

func (q *redisQueue) Pending(ctx context.Context, job string) (bool, error) {
	n, err := q.rdb.Exists(ctx, q.leaseKey(job)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "schedule: pending %s", job)
	}
	return n > 0, nil
}

func (q *redisQueue) RunDue(ctx context.Context) (int, error) {
	max := strconv.FormatInt(q.cfg.now().UnixMilli(), 10)
	jobs, err := q.rdb.ZRangeByScore(ctx, q.dueKey(), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "schedule: list due jobs")
	}
	var ran int
	for _, job := range jobs {
		// ZREM decides which runner owns the job
		claimed, err := q.rdb.ZRem(ctx, q.dueKey(), job).Result()
		if err != nil {
			return ran, errors.Wrapf(err, "schedule: claim %s", job)
		}
		if claimed == 0 {
			continue
		}
		q.handlers.fire(ctx, q.logger, q.cfg, job)
		if err := q.rdb.Del(ctx, q.leaseKey(job)).Err(); err != nil {
			q.logger.Warn("failed to release lease for %s: %s", job, err)
		}
		ran++
	}
	return ran, nil
}

func (q *redisQueue) run() {
	defer q.waitGroup.Done()
	ticker := time.NewTicker(q.cfg.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.RunDue(q.ctx); err != nil && q.ctx.Err() == nil {
				q.logger.Warn("run due jobs: %s", err)
			}
		}
	}
}

// Close stops the runner. The caller owns the redis client.
func (q *redisQueue) Close() error {
	q.once.Do(func() {
		q.cancel()
		q.waitGroup.Wait()
	})
	return nil
}

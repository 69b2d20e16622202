package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Records are hashes with the msgpack value in field "v" and the expiry in
// unix milliseconds in field "e" (0 for none). The key TTL is ttl plus the
// retention window so that expired records remain readable through GetRaw.
const (
	redisValueField  = "v"
	redisExpiryField = "e"
	redisScanCount   = 100
)

// purgeExpiredScript deletes the record only while its expiry field still
// holds the value the caller observed.
var purgeExpiredScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisCache struct {
	client redis.UniversalClient
	cfg    config
}

var _ Store = (*redisCache)(nil)

// NewRedis returns a new Store backed by Redis.
// The caller owns the client lifecycle; Close does not close it.
func NewRedis(client redis.UniversalClient, opts ...Option) Store {
	return &redisCache{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (c *redisCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.queryTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisCache) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisCache) read(ctx context.Context, key string) (Record, bool, error) {
	vals, err := c.client.HMGet(ctx, c.prefixKey(key), redisValueField, redisExpiryField).Result()
	if err != nil {
		return Record{}, false, unavailable(err, "redis get")
	}
	data, ok := vals[0].(string)
	if !ok {
		return Record{}, false, nil
	}
	rec := Record{Value: msgpack.RawMessage(data)}
	if raw, ok := vals[1].(string); ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Record{}, false, errors.Wrapf(err, "cache: corrupt expiry for %q", key)
		}
		if ms > 0 {
			rec.ExpiresAt = time.UnixMilli(ms)
		}
	}
	return rec, true, nil
}

func (c *redisCache) Get(ctx context.Context, key string) (Lookup, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	rec, ok, err := c.read(qctx, key)
	if err != nil || !ok {
		return Lookup{}, err
	}
	if rec.Expired(c.cfg.now()) {
		return Lookup{}, c.purgeExpired(qctx, key, rec)
	}
	return Lookup{State: Fresh, Value: rec.Value, ExpiresAt: rec.ExpiresAt}, nil
}

// purgeExpired deletes the record read as rec unless a Set replaced it since.
func (c *redisCache) purgeExpired(ctx context.Context, key string, rec Record) error {
	expiry := strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10)
	err := purgeExpiredScript.Run(ctx, c.client, []string{c.prefixKey(key)}, redisExpiryField, expiry).Err()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	return unavailable(err, "redis purge expired")
}

func (c *redisCache) GetRaw(ctx context.Context, key string) (Record, bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.read(qctx, key)
}

func (c *redisCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "cache: failed to marshal value for %q", key)
	}
	var expiry int64
	if exp := expiresAt(c.cfg.now(), ttl); !exp.IsZero() {
		expiry = exp.UnixMilli()
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k := c.prefixKey(key)
	pipe := c.client.TxPipeline()
	pipe.HSet(qctx, k, redisValueField, data, redisExpiryField, expiry)
	if ttl > 0 {
		pipe.PExpire(qctx, k, ttl+c.cfg.retention)
	} else {
		pipe.Persist(qctx, k)
	}
	_, err = pipe.Exec(qctx)
	return unavailable(err, "redis set")
}

func (c *redisCache) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	n, err := c.client.Del(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, unavailable(err, "redis delete")
	}
	return n > 0, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (c *redisCache) Purge(ctx context.Context, prefix string) (int, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	pattern := globEscaper.Replace(c.prefixKey(prefix)) + "*"
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.client.Scan(qctx, cursor, pattern, redisScanCount).Result()
		if err != nil {
			return total, unavailable(err, "redis scan")
		}
		if len(keys) > 0 {
			n, err := c.client.Del(qctx, keys...).Result()
			if err != nil {
				return total, unavailable(err, "redis purge")
			}
			total += int(n)
		}
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// Close is a no-op, the caller owns the redis client.
func (c *redisCache) Close() error {
	return nil
}

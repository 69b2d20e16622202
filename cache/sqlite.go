package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type sqliteCache struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Store = (*sqliteCache)(nil)

// NewSQLite returns a new Store backed by SQLite.
// If dbPath is empty or ":memory:", an in-memory database is used.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (Store, error) {
	cfg := applyOptions(opts)
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, unavailable(err, "sqlite open")
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS swr_cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swr_cache_expires_at ON swr_cache(expires_at)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, unavailable(err, "sqlite init")
		}
	}

	childCtx, cancel := context.WithCancel(ctx)
	c := &sqliteCache{
		db:     db,
		ctx:    childCtx,
		cancel: cancel,
		cfg:    cfg,
	}
	if cfg.expiryCheck > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c, nil
}

func (c *sqliteCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.queryTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *sqliteCache) read(ctx context.Context, key string) (Record, bool, error) {
	var (
		data      []byte
		expiresMs int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM swr_cache WHERE key = ?`, key,
	).Scan(&data, &expiresMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, unavailable(err, "sqlite get")
	}
	rec := Record{Value: msgpack.RawMessage(data)}
	if expiresMs > 0 {
		rec.ExpiresAt = time.UnixMilli(expiresMs)
	}
	return rec, true, nil
}

func (c *sqliteCache) Get(ctx context.Context, key string) (Lookup, error) {
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

// purgeExpired deletes the record read as rec. A Set that landed after the
// read renewed expires_at and is left alone.
func (c *sqliteCache) purgeExpired(ctx context.Context, key string, rec Record) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM swr_cache WHERE key = ? AND expires_at = ?`, key, rec.ExpiresAt.UnixMilli())
	return unavailable(err, "sqlite purge expired")
}

func (c *sqliteCache) GetRaw(ctx context.Context, key string) (Record, bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.read(qctx, key)
}

func (c *sqliteCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "cache: failed to marshal value for %q", key)
	}
	var expiresMs int64
	if exp := expiresAt(c.cfg.now(), ttl); !exp.IsZero() {
		expiresMs = exp.UnixMilli()
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	_, err = c.db.ExecContext(qctx,
		`INSERT INTO swr_cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, data, expiresMs,
	)
	return unavailable(err, "sqlite set")
}

func (c *sqliteCache) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	result, err := c.db.ExecContext(qctx, `DELETE FROM swr_cache WHERE key = ?`, key)
	if err != nil {
		return false, unavailable(err, "sqlite delete")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, unavailable(err, "sqlite delete")
	}
	return rows > 0, nil
}

func (c *sqliteCache) Purge(ctx context.Context, prefix string) (int, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	// case-sensitive, unlike LIKE
	result, err := c.db.ExecContext(qctx,
		`DELETE FROM swr_cache WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return 0, unavailable(err, "sqlite purge")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable(err, "sqlite purge")
	}
	return int(rows), nil
}

func (c *sqliteCache) Close() error {
	var dbErr error
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
		dbErr = c.db.Close()
	})
	return dbErr
}

func (c *sqliteCache) sweep(ctx context.Context) error {
	cutoff := c.cfg.now().Add(-c.cfg.retention).UnixMilli()
	_, err := c.db.ExecContext(ctx, `DELETE FROM swr_cache WHERE expires_at > 0 AND expires_at <= ?`, cutoff)
	return err
}

func (c *sqliteCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.sweep(c.ctx); err != nil && c.ctx.Err() == nil {
				c.cfg.logger.Warn("sqlite sweep failed: %s", err)
			}
		}
	}
}

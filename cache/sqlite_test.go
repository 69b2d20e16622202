package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/go-swr/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSQLiteSimpleCache(t *testing.T) {
	c, err := NewSQLite(context.Background(), ":memory:", WithExpiryCheck(time.Second))
	require.NoError(t, err)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestSQLiteSetGetCache(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c, err := NewSQLite(ctx, "", WithExpiryCheck(0), WithClock(clock.Now))
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Get(ctx, "test")
	assert.NoError(t, err)
	assert.False(t, res.Found())

	require.NoError(t, c.Set(ctx, "test", map[string]int{"a": 1}, time.Minute))
	ok, val, err := GetContext[map[string]int](ctx, c, "test")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, val["a"])

	clock.Advance(2 * time.Minute)
	rec, ok, err := c.GetRaw(ctx, "test")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rec.Expired(clock.Now()))

	res, err = c.Get(ctx, "test")
	assert.NoError(t, err)
	assert.Equal(t, Absent, res.State)
	_, ok, _ = c.GetRaw(ctx, "test")
	assert.False(t, ok)
}

func TestSQLiteSweep(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c, err := NewSQLite(ctx, ":memory:", WithExpiryCheck(0), WithClock(clock.Now), WithRetention(time.Hour))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "short", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "forever", 1, 0))
	clock.Advance(2 * time.Hour)
	require.NoError(t, c.(*sqliteCache).sweep(ctx))

	_, ok, _ := c.GetRaw(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = c.GetRaw(ctx, "forever")
	assert.True(t, ok)
}

func TestSQLitePurgeEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:", WithExpiryCheck(0))
	require.NoError(t, err)
	defer c.Close()

	for _, k := range []string{"feed_home", "feedXhome", "feed%", "menu"} {
		require.NoError(t, c.Set(ctx, k, k, time.Minute))
	}
	n, err := c.Purge(ctx, "feed_")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = c.Purge(ctx, "feed")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	found, err := c.Delete(ctx, "menu")
	assert.NoError(t, err)
	assert.True(t, found)
	n, err = c.Purge(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLitePersistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	c1, err := NewSQLite(ctx, dbPath, WithExpiryCheck(0))
	require.NoError(t, err)
	require.NoError(t, c1.Set(ctx, "key", "persisted", time.Hour))
	require.NoError(t, c1.Close())

	c2, err := NewSQLite(ctx, dbPath, WithExpiryCheck(0))
	require.NoError(t, err)
	defer c2.Close()
	ok, val, err := GetContext[string](ctx, c2, "key")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", val)
}

func TestSQLitePurgeIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:", WithExpiryCheck(0))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "Feed:a", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "feed:b", 1, time.Minute))
	n, err := c.Purge(ctx, "Feed:")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok, _ := c.GetRaw(ctx, "feed:b")
	assert.True(t, ok)
}

func TestSQLiteExpiredPurgeKeepsRenewedRecord(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c, err := NewSQLite(ctx, ":memory:", WithExpiryCheck(0), WithClock(clock.Now))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "feed", "old", time.Minute))
	clock.Advance(2 * time.Minute)
	stale, ok, err := c.GetRaw(ctx, "feed")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Set(ctx, "feed", "new", time.Minute))
	require.NoError(t, c.(*sqliteCache).purgeExpired(ctx, "feed", stale))
	ok, val, err := GetContext[string](ctx, c, "feed")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", val)

	clock.Advance(2 * time.Minute)
	res, err := c.Get(ctx, "feed")
	assert.NoError(t, err)
	assert.False(t, res.Found())
	_, ok, _ = c.GetRaw(ctx, "feed")
	assert.False(t, ok)
}

func TestSQLiteStoresRawMessageVerbatim(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:", WithExpiryCheck(0))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "greeting", "hello", time.Minute))
	for i := 0; i < 3; i++ {
		res, err := c.Get(ctx, "greeting")
		require.NoError(t, err)
		require.IsType(t, msgpack.RawMessage{}, res.Value)
		require.NoError(t, c.Set(ctx, "greeting", res.Value, time.Minute))
	}
	ok, val, err := GetContext[string](ctx, c, "greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", val)
}

func TestSQLiteSweepFailureIsLogged(t *testing.T) {
	log := logger.NewTestLogger()
	c, err := NewSQLite(context.Background(), ":memory:", WithExpiryCheck(10*time.Millisecond), WithLogger(log))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.(*sqliteCache).db.Close())
	assert.Eventually(t, func() bool {
		return log.Has("WARNING", "sqlite sweep failed")
	}, time.Second, 10*time.Millisecond)
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/go-swr/content"
	"github.com/agentuity/go-swr/logger"
	"github.com/agentuity/go-swr/swr"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sample = `
log:
  level: debug
  format: json
store:
  backend: memory
  retention: 2d
  expiry_check: 0s
queue:
  poll_interval: 0s
entries:
  - name: home-feed
    ttl: 3600
    query:
      type: post
      limit: 10
  - name: news
    kind: taxonomy-scoped
    ttl: 1d
    query:
      taxonomy: category
      terms: [news]
  - name: settings
    kind: generic
    ttl: soon
    value: dark
    auto_compute: false
    always_serve_stale: false
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, BackendMemory, c.Store.Backend)
	assert.Equal(t, BackendMemory, c.Queue.Backend)
	require.NotNil(t, c.Store.Retention)
	assert.Equal(t, 48*time.Hour, time.Duration(*c.Store.Retention))

	require.Len(t, c.Entries, 3)
	feed := c.Entries[0]
	assert.Equal(t, "home-feed", feed.Name)
	assert.Equal(t, time.Hour, time.Duration(*feed.TTL))
	assert.Equal(t, content.Query{Type: "post", Limit: 10}, feed.Query)

	news := c.Entries[1]
	assert.Equal(t, 24*time.Hour, time.Duration(*news.TTL))
	assert.Equal(t, []string{"news"}, news.Query.Terms)

	settings := c.Entries[2]
	assert.Equal(t, time.Duration(0), time.Duration(*settings.TTL), "garbage ttl clamps to zero")
	assert.Equal(t, "dark", settings.Value)
	require.NotNil(t, settings.AutoCompute)
	assert.False(t, *settings.AutoCompute)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"unknown store":     "store: {backend: etcd}",
		"sqlite needs path": "store: {backend: sqlite}",
		"redis needs url":   "queue: {backend: redis}",
		"events need redis": "events: {enabled: true}",
		"bad format":        "log: {format: xml}",
		"bad duration":      "store: {retention: forever}",
		"unknown kind":      "entries: [{name: a, kind: transient}]",
		"duplicate entry":   "entries: [{name: a}, {name: a}]",
		"not yaml":          "entries: [",
	}
	for name, doc := range tests {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Entries, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(StoreConfig{Retention: ptr(Duration(36 * time.Hour))})
	require.NoError(t, err)
	var back StoreConfig
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, 36*time.Hour, time.Duration(*back.Retention))

	out, err = yaml.Marshal(EntryConfig{Name: "a", TTL: ptr(TTL(90 * time.Second))})
	require.NoError(t, err)
	assert.Contains(t, string(out), "ttl: 90")
}

func ptr[T any](v T) *T {
	return &v
}

func TestEntryOptions(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	log := logger.NewTestLogger()
	rt, err := Build(context.Background(), c, log)
	require.NoError(t, err)
	defer rt.Close()

	repo := content.NewRepository()
	notifier, err := rt.Notifier(context.Background(), repo)
	require.NoError(t, err)
	reg := rt.Registry(context.Background(), notifier, repo, nil)
	assert.Equal(t, []string{"home-feed", "news", "settings"}, reg.Names())

	feed, _ := reg.Get("home-feed")
	assert.Equal(t, swr.KindQuery, feed.Kind())
	assert.Equal(t, time.Hour, feed.TTL())
	news, _ := reg.Get("news")
	assert.Equal(t, swr.KindTaxonomy, news.Kind())
	settings, _ := reg.Get("settings")
	v, err := settings.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	// both query entries subscribed to saves and deletes
	assert.Equal(t, 4, repo.Handlers())
}

func TestBuildRedisRuntime(t *testing.T) {
	mr := miniredis.RunT(t)
	doc := `
redis:
  url: redis://` + mr.Addr() + `
store:
  backend: redis
  prefix: swr
  tiered: true
  circuit_breaker:
    max_failures: 3
    timeout: 10s
queue:
  backend: redis
  poll_interval: 0s
events:
  enabled: true
entries:
  - name: home-feed
    ttl: 60
    query: {type: post}
`
	c, err := Parse([]byte(doc))
	require.NoError(t, err)
	ctx := context.Background()
	rt, err := Build(ctx, c, logger.NewTestLogger())
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.Redis)
	require.NotNil(t, rt.Events)

	repo := content.NewRepository()
	require.NoError(t, repo.Save(ctx, content.Item{ID: "p1", Type: "post", Status: content.StatusPublished}, content.MutationContext{UserID: "editor"}))
	notifier, err := rt.Notifier(ctx, repo)
	require.NoError(t, err)
	reg := rt.Registry(ctx, notifier, repo, nil)

	feed, ok := reg.Get("home-feed")
	require.True(t, ok)
	assert.True(t, mr.Exists("swr:home-feed"))

	// a local save travels through redis pub/sub back to the entry
	require.NoError(t, repo.Save(ctx, content.Item{ID: "p2", Type: "post", Status: content.StatusPublished}, content.MutationContext{UserID: "editor"}))
	assert.Eventually(t, func() bool {
		_, ok, err := feed.Raw(ctx)
		return err == nil && !ok
	}, 2*time.Second, 10*time.Millisecond)

	items, err := swr.Value[[]content.Item](ctx, feed)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestBuildSQLiteRuntime(t *testing.T) {
	c := &Config{
		Store: StoreConfig{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "swr.db")},
		Queue: QueueConfig{Backend: BackendMemory, PollInterval: ptr(Duration(0))},
		Log:   LogConfig{Format: "console"},
	}
	require.NoError(t, c.Validate())
	ctx := context.Background()
	rt, err := Build(ctx, c, logger.NewTestLogger())
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Store.Set(ctx, "k", "v", time.Minute))
	n, err := swr.DeleteAll(ctx, rt.Store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

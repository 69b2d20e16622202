// Package config loads the YAML document describing a deployment of swr
// entries: the store and job queue backends, logging and the entries
// themselves.
package config

import (
	"os"
	"time"

	"github.com/agentuity/go-swr/content"
	"github.com/agentuity/go-swr/swr"
	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "90s", "36h" or "2d" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := str2duration.ParseDuration(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return str2duration.String(time.Duration(d)), nil
}

// TTL is an entry ttl. Numbers are seconds, strings are durations, and
// anything unparseable or negative becomes zero instead of failing the load.
type TTL time.Duration

func (t *TTL) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: ttl must be a scalar", value.Line)
	}
	*t = TTL(swr.ParseTTL(value.Value))
	return nil
}

func (t TTL) MarshalYAML() (interface{}, error) {
	return int64(time.Duration(t) / time.Second), nil
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type BreakerConfig struct {
	MaxFailures      int      `yaml:"max_failures,omitempty"`
	Timeout          Duration `yaml:"timeout,omitempty"`
	SuccessThreshold int      `yaml:"success_threshold,omitempty"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type StoreConfig struct {
	Backend      string         `yaml:"backend,omitempty"`
	Prefix       string         `yaml:"prefix,omitempty"`
	Path         string         `yaml:"path,omitempty"`
	Tiered       bool           `yaml:"tiered,omitempty"`
	Retention    *Duration      `yaml:"retention,omitempty"`
	QueryTimeout *Duration      `yaml:"query_timeout,omitempty"`
	ExpiryCheck  *Duration      `yaml:"expiry_check,omitempty"`
	Breaker      *BreakerConfig `yaml:"circuit_breaker,omitempty"`
}

type QueueConfig struct {
	Backend      string    `yaml:"backend,omitempty"`
	Prefix       string    `yaml:"prefix,omitempty"`
	PollInterval *Duration `yaml:"poll_interval,omitempty"`
	Lease        *Duration `yaml:"lease,omitempty"`
}

// EventsConfig enables distributing content mutation events over Redis.
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EntryConfig describes one cache entry.
type EntryConfig struct {
	Name             string        `yaml:"name"`
	Kind             string        `yaml:"kind,omitempty"`
	TTL              *TTL          `yaml:"ttl,omitempty"`
	Query            content.Query `yaml:"query,omitempty"`
	Value            any           `yaml:"value,omitempty"`
	AutoCompute      *bool         `yaml:"auto_compute,omitempty"`
	AlwaysServeStale *bool         `yaml:"always_serve_stale,omitempty"`
}

// Config is the root document.
type Config struct {
	Log     LogConfig     `yaml:"log,omitempty"`
	Redis   RedisConfig   `yaml:"redis,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Queue   QueueConfig   `yaml:"queue,omitempty"`
	Events  EventsConfig  `yaml:"events,omitempty"`
	Entries []EntryConfig `yaml:"entries,omitempty"`
}

// Parse decodes and validates a document.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses the document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	return Parse(data)
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = BackendMemory
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func (c *Config) usesRedis() bool {
	return c.Store.Backend == BackendRedis || c.Queue.Backend == BackendRedis || c.Events.Enabled
}

// Validate reports the first problem found in the document.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if c.Store.Path == "" {
			return errors.New("config: store.path is required for the sqlite backend")
		}
	default:
		return errors.Newf("config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Queue.Backend {
	case BackendMemory, BackendRedis:
	default:
		return errors.Newf("config: unknown queue backend %q", c.Queue.Backend)
	}
	if c.usesRedis() && c.Redis.URL == "" {
		return errors.New("config: redis.url is required")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return errors.Newf("config: unknown log format %q", c.Log.Format)
	}
	seen := make(map[string]bool, len(c.Entries))
	for i, e := range c.Entries {
		if _, ok := swr.ParseKind(e.Kind); !ok {
			return errors.Newf("config: entry %d (%s): unknown kind %q", i, e.Name, e.Kind)
		}
		if e.Name != "" && seen[e.Name] {
			return errors.Newf("config: duplicate entry %q", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// Options converts the entry definition to swr options.
func (e EntryConfig) Options() []swr.Option {
	kind, _ := swr.ParseKind(e.Kind)
	opts := []swr.Option{swr.WithKind(kind)}
	if e.TTL != nil {
		opts = append(opts, swr.WithTTL(time.Duration(*e.TTL)))
	}
	if !e.Query.IsZero() {
		opts = append(opts, swr.WithQuery(e.Query))
	}
	if e.Value != nil {
		opts = append(opts, swr.WithValue(e.Value))
	}
	if e.AutoCompute != nil {
		opts = append(opts, swr.WithAutoCompute(*e.AutoCompute))
	}
	if e.AlwaysServeStale != nil {
		opts = append(opts, swr.WithAlwaysServeStale(*e.AlwaysServeStale))
	}
	return opts
}

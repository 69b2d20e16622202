package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-swr/logger"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrStoreUnavailable marks errors caused by the backing store failing an
// operation (I/O, timeouts, an open circuit). Callers treat it as absence.
var ErrStoreUnavailable = errors.New("cache: store unavailable")

// State classifies the outcome of a lookup.
type State int

const (
	// Absent means no record exists, or it expired and was purged.
	Absent State = iota
	// Fresh means the record exists and has not expired.
	Fresh
	// Stale means an expired record was served without purging it.
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

// Record is a stored value with its expiration. A zero ExpiresAt never expires.
type Record struct {
	Value     any
	ExpiresAt time.Time
}

// Expired reports whether the record is past its expiration at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Lookup is the result of Store.Get.
type Lookup struct {
	State     State
	Value     any
	ExpiresAt time.Time
}

// Found reports whether the lookup produced a value, fresh or stale.
func (l Lookup) Found() bool {
	return l.State != Absent
}

func lookupOf(r Record, now time.Time) Lookup {
	state := Fresh
	if r.Expired(now) {
		state = Stale
	}
	return Lookup{State: state, Value: r.Value, ExpiresAt: r.ExpiresAt}
}

// Store is the key/value persistence the cache entries are written to.
type Store interface {
	// Get returns a live record. An expired record is purged and reported Absent.
	Get(ctx context.Context, key string) (Lookup, error)
	// GetRaw returns the record without evaluating its expiration.
	GetRaw(ctx context.Context, key string) (Record, bool, error)
	// Set stores val under key. A ttl of zero stores a record that never expires.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Purge removes every key starting with prefix; an empty prefix removes all keys.
	Purge(ctx context.Context, prefix string) (int, error)
	// Close releases the store's resources.
	Close() error
}

// DefaultRetention is how long an expired record stays readable through
// GetRaw before a backend sweeps it.
const DefaultRetention = 7 * 24 * time.Hour

// DefaultQueryTimeout is the per-operation timeout for backends that perform I/O.
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	retention    time.Duration
	queryTimeout time.Duration
	expiryCheck  time.Duration
	prefix       string
	now          func() time.Time
	logger       logger.Logger
}

// Option configures a Store implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		retention:    DefaultRetention,
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  time.Minute,
		now:          time.Now,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithRetention sets how long expired records are kept for GetRaw.
func WithRetention(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.retention = d
		}
	}
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed stores.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the sweep interval for the in-memory and SQLite
// backends. Zero disables the background sweep.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix namespaces keys in the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger background sweeps report failures to.
func WithLogger(log logger.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}

func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, "cache: %s", op), ErrStoreUnavailable)
}

// Decode converts a stored value to T. In-memory values are asserted directly,
// values from serialized backends are unmarshalled from msgpack.
// Serialized values are msgpack.RawMessage, which Set writes back verbatim.
func Decode[T any](val any) (T, error) {
	var zero T
	if val == nil {
		return zero, nil
	}
	if typed, ok := val.(T); ok {
		return typed, nil
	}
	if data, ok := val.(msgpack.RawMessage); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return zero, errors.Wrap(err, "cache: failed to unmarshal value")
		}
		return result, nil
	}
	return zero, errors.Newf("cache: cannot convert value of type %T to %T", val, zero)
}

// GetContext retrieves a live value from the store decoded to T.
func GetContext[T any](ctx context.Context, s Store, key string) (bool, T, error) {
	var zero T
	res, err := s.Get(ctx, key)
	if err != nil || !res.Found() {
		return false, zero, err
	}
	val, err := Decode[T](res.Value)
	if err != nil {
		return false, zero, err
	}
	return true, val, nil
}

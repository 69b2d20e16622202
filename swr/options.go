package swr

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentuity/go-swr/content"
	"github.com/xhit/go-str2duration/v2"
)

// Kind selects how an entry recomputes its value and which mutations
// invalidate it.
type Kind int

const (
	// KindQuery entries run a content query and are invalidated by content mutations.
	KindQuery Kind = iota
	// KindTaxonomy entries run a content query and only react to saves of
	// content carrying a term of the query's taxonomy.
	KindTaxonomy
	// KindGeneric entries hold a value set by the caller or produced by a
	// compute function. Content mutations do not affect them.
	KindGeneric
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindTaxonomy:
		return "taxonomy"
	case KindGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name, as written in configuration, to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "query", "computed-query":
		return KindQuery, true
	case "taxonomy", "taxonomy-scoped":
		return KindTaxonomy, true
	case "generic":
		return KindGeneric, true
	}
	return KindQuery, false
}

func (k Kind) queryBased() bool {
	return k == KindQuery || k == KindTaxonomy
}

// MaxNameLength is the longest name an entry keeps; longer names are truncated.
const MaxNameLength = 172

// DefaultTTL is the ttl of entries created without WithTTL.
const DefaultTTL = 24 * time.Hour

// NormalizeTTL floors d to whole seconds and clamps negatives to zero.
func NormalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second)
}

// ParseTTL reads a ttl from a bare number of seconds or a duration string
// such as "1h30m" or "2d". Unparseable input yields zero.
func ParseTTL(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || secs <= 0 {
			return 0
		}
		if secs >= math.MaxInt64/float64(time.Second) {
			return NormalizeTTL(time.Duration(math.MaxInt64))
		}
		return NormalizeTTL(time.Duration(math.Floor(secs)) * time.Second)
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0
	}
	return NormalizeTTL(d)
}

// truncateName cuts name to MaxNameLength bytes without splitting a rune.
func truncateName(name string) string {
	if len(name) <= MaxNameLength {
		return name
	}
	cut := MaxNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// ComputeFunc produces a fresh value for a generic entry.
type ComputeFunc func(ctx context.Context) (any, error)

type config struct {
	kind             Kind
	ttl              time.Duration
	value            any
	hasValue         bool
	query            content.Query
	queryParams      content.Query
	compute          ComputeFunc
	autoCompute      bool
	alwaysServeStale bool
	now              func() time.Time
}

func defaultConfig() config {
	return config{
		kind:             KindQuery,
		ttl:              DefaultTTL,
		autoCompute:      true,
		alwaysServeStale: true,
		now:              time.Now,
	}
}

// Option configures an Entry.
type Option func(*config)

// WithKind sets the entry's kind. The default is KindQuery.
func WithKind(k Kind) Option {
	return func(c *config) { c.kind = k }
}

// WithTTL sets how long a computed value stays fresh. Zero stores values that
// never expire.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithValue seeds the entry with v and writes it to the store on construction.
func WithValue(v any) Option {
	return func(c *config) {
		c.value = v
		c.hasValue = true
	}
}

// WithQuery sets the query a query based entry computes its value from.
func WithQuery(q content.Query) Option {
	return func(c *config) { c.query = q }
}

// WithQueryParams merges q over the entry's query during construction.
func WithQueryParams(q content.Query) Option {
	return func(c *config) { c.queryParams = c.queryParams.Merge(q) }
}

// WithCompute sets the compute function of a generic entry.
func WithCompute(fn ComputeFunc) Option {
	return func(c *config) { c.compute = fn }
}

// WithAutoCompute controls whether construction reads the store and resolves
// an initial value. The default is true.
func WithAutoCompute(enabled bool) Option {
	return func(c *config) { c.autoCompute = enabled }
}

// WithAlwaysServeStale controls whether reads serve the stored record even
// after it expired, refreshing it in the background. The default is true.
func WithAlwaysServeStale(enabled bool) Option {
	return func(c *config) { c.alwaysServeStale = enabled }
}

// WithClock replaces time.Now when computing regeneration due times.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

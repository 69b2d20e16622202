// Package content models the content items cache entries are computed from,
// the query facility that selects them and the notifications emitted when
// they change.
package content

import (
	"context"
	"slices"
	"time"
)

// Item is a unit of content.
type Item struct {
	ID       string              `msgpack:"id" json:"id"`
	Type     string              `msgpack:"type" json:"type"`
	Status   string              `msgpack:"status" json:"status"`
	Title    string              `msgpack:"title" json:"title"`
	Terms    map[string][]string `msgpack:"terms,omitempty" json:"terms,omitempty"`
	Modified time.Time           `msgpack:"modified" json:"modified"`
}

// StatusPublished is the default status selected by queries.
const StatusPublished = "publish"

// HasTaxonomy reports whether the item carries at least one term of taxonomy.
func (i Item) HasTaxonomy(taxonomy string) bool {
	return len(i.Terms[taxonomy]) > 0
}

// HasTerm reports whether the item carries term in taxonomy.
func (i Item) HasTerm(taxonomy, term string) bool {
	return slices.Contains(i.Terms[taxonomy], term)
}

// Query selects items. Zero fields do not filter.
type Query struct {
	Type     string   `msgpack:"type,omitempty" yaml:"type"`
	Status   string   `msgpack:"status,omitempty" yaml:"status"`
	Taxonomy string   `msgpack:"taxonomy,omitempty" yaml:"taxonomy"`
	Terms    []string `msgpack:"terms,omitempty" yaml:"terms"`
	Limit    int      `msgpack:"limit,omitempty" yaml:"limit"`
	OrderBy  string   `msgpack:"order_by,omitempty" yaml:"order_by"`
	Asc      bool     `msgpack:"asc,omitempty" yaml:"asc"`
}

const (
	OrderByModified = "modified"
	OrderByTitle    = "title"
)

// Merge returns q with every non-zero field of params applied over it.
func (q Query) Merge(params Query) Query {
	if params.Type != "" {
		q.Type = params.Type
	}
	if params.Status != "" {
		q.Status = params.Status
	}
	if params.Taxonomy != "" {
		q.Taxonomy = params.Taxonomy
	}
	if len(params.Terms) > 0 {
		q.Terms = slices.Clone(params.Terms)
	}
	if params.Limit != 0 {
		q.Limit = params.Limit
	}
	if params.OrderBy != "" {
		q.OrderBy = params.OrderBy
	}
	if params.Asc {
		q.Asc = true
	}
	return q
}

// IsZero reports whether no field is set.
func (q Query) IsZero() bool {
	return q.Type == "" && q.Status == "" && q.Taxonomy == "" && len(q.Terms) == 0 &&
		q.Limit == 0 && q.OrderBy == "" && !q.Asc
}

// Matches reports whether item satisfies the query's filters.
func (q Query) Matches(item Item) bool {
	if q.Type != "" && item.Type != q.Type {
		return false
	}
	status := q.Status
	if status == "" {
		status = StatusPublished
	}
	if status != "any" && item.Status != status {
		return false
	}
	if q.Taxonomy != "" {
		if len(q.Terms) == 0 {
			return item.HasTaxonomy(q.Taxonomy)
		}
		for _, term := range q.Terms {
			if item.HasTerm(q.Taxonomy, term) {
				return true
			}
		}
		return false
	}
	return true
}

// Querier executes queries against the content source.
type Querier interface {
	Query(ctx context.Context, q Query) ([]Item, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(ctx context.Context, q Query) ([]Item, error)

func (f QuerierFunc) Query(ctx context.Context, q Query) ([]Item, error) {
	return f(ctx, q)
}

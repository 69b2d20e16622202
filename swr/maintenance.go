package swr

import (
	"context"

	"github.com/agentuity/go-swr/cache"
	"github.com/cockroachdb/errors"
)

// DeleteAllWithPrefix removes every stored record whose name starts with
// prefix and returns how many were removed. Entries are not notified.
func DeleteAllWithPrefix(ctx context.Context, store cache.Store, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.Wrap(ErrConfiguration, "empty prefix, use DeleteAll")
	}
	return store.Purge(ctx, prefix)
}

// DeleteAll removes every stored record.
func DeleteAll(ctx context.Context, store cache.Store) (int, error) {
	return store.Purge(ctx, "")
}

// Package swr implements stale-while-revalidate cache entries.
//
// An Entry is one named, potentially expensive computation whose value is
// kept in a cache.Store. Reads never wait on recomputation once a value has
// been stored: an expired record is served as-is while a single background
// job, scheduled on a schedule.Queue, recomputes it. Only a true miss, where
// the store holds nothing at all, computes synchronously.
//
// Query based entries subscribe to a content.Notifier and drop their stored
// record when content they depend on is saved or deleted.
package swr

package swr

import "github.com/cockroachdb/errors"

var (
	// ErrConfiguration marks an entry that cannot persist, such as one with
	// an empty name. It is reported through the logger, never returned from New.
	ErrConfiguration = errors.New("swr: invalid configuration")

	// ErrCompute marks a failure of an entry's compute strategy.
	ErrCompute = errors.New("swr: compute failed")
)

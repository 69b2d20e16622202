package swr

import "time"

// Metrics receives entry lifecycle events.
type Metrics interface {
	// Hit records a read answered by a fresh record.
	Hit(entry string)
	// StaleServed records a read answered by an expired record.
	StaleServed(entry string)
	// Miss records a read that found nothing and computed synchronously.
	Miss(entry string)
	// Computed records a successful compute and how long it took.
	Computed(entry string, took time.Duration)
	// ComputeFailed records a failed compute.
	ComputeFailed(entry string)
	// Scheduled records a regeneration job being enqueued.
	Scheduled(entry string)
	// Invalidated records the stored record being dropped by a mutation or a caller.
	Invalidated(entry string)
}

// NoopMetrics discards every event.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) Hit(string)                     {}
func (NoopMetrics) StaleServed(string)             {}
func (NoopMetrics) Miss(string)                    {}
func (NoopMetrics) Computed(string, time.Duration) {}
func (NoopMetrics) ComputeFailed(string)           {}
func (NoopMetrics) Scheduled(string)               {}
func (NoopMetrics) Invalidated(string)             {}

// Package prom exports swr entry metrics to Prometheus.
package prom

import (
	"time"

	"github.com/agentuity/go-swr/swr"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements swr.Metrics with Prometheus collectors labelled by entry.
type Adapter struct {
	reads         *prometheus.CounterVec
	computes      *prometheus.CounterVec
	computeTime   *prometheus.HistogramVec
	schedules     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
}

// New registers the adapter's collectors with reg (nil uses
// prometheus.DefaultRegisterer) under namespace ns and subsystem sub.
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "reads_total",
			Help:        "Entry reads by result (hit, stale, miss)",
			ConstLabels: constLabels,
		}, []string{"entry", "result"}),
		computes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "computes_total",
			Help:        "Entry computes by outcome",
			ConstLabels: constLabels,
		}, []string{"entry", "outcome"}),
		computeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "compute_duration_seconds",
			Help:        "Duration of successful computes",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"entry"}),
		schedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "regenerations_scheduled_total",
			Help:        "Background regeneration jobs enqueued",
			ConstLabels: constLabels,
		}, []string{"entry"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "invalidations_total",
			Help:        "Stored records dropped by invalidation",
			ConstLabels: constLabels,
		}, []string{"entry"}),
	}
	reg.MustRegister(a.reads, a.computes, a.computeTime, a.schedules, a.invalidations)
	return a
}

func (a *Adapter) Hit(entry string) { a.reads.WithLabelValues(entry, "hit").Inc() }

func (a *Adapter) StaleServed(entry string) { a.reads.WithLabelValues(entry, "stale").Inc() }

func (a *Adapter) Miss(entry string) { a.reads.WithLabelValues(entry, "miss").Inc() }

func (a *Adapter) Computed(entry string, took time.Duration) {
	a.computes.WithLabelValues(entry, "ok").Inc()
	a.computeTime.WithLabelValues(entry).Observe(took.Seconds())
}

func (a *Adapter) ComputeFailed(entry string) { a.computes.WithLabelValues(entry, "error").Inc() }

func (a *Adapter) Scheduled(entry string) { a.schedules.WithLabelValues(entry).Inc() }

func (a *Adapter) Invalidated(entry string) { a.invalidations.WithLabelValues(entry).Inc() }

var _ swr.Metrics = (*Adapter)(nil)

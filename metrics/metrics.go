/*
Package metrics exposes Prometheus collectors for the approval workflow.

PURPOSE:
  The Collector plugs into the engines through the interfaces they
  already expose, so no engine imports Prometheus:

    approval.Publisher     ─▶ chain transitions by kind and outcome
    entitlement.Observer   ─▶ recalculation count and latency
    lock.Locker (wrapper)  ─▶ lock conflicts by scope

  Handler serves the registry for scraping.
*/
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/entitlement"
	"github.com/warp/approval-engine/lock"
)

const namespace = "approval_engine"

type Collector struct {
	registry *prometheus.Registry

	levelsOpened  *prometheus.CounterVec
	finalized     *prometheus.CounterVec
	lockConflicts *prometheus.CounterVec
	recalcs       *prometheus.CounterVec
	recalcLatency prometheus.Histogram
}

// New registers the collectors on a fresh registry, with the Go and process
// collectors alongside.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		levelsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "levels_opened_total",
				Help:      "Approval levels opened, by approvable kind and level.",
			},
			[]string{"kind", "level"},
		),
		finalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chains_finalized_total",
				Help:      "Approval chains that reached a terminal status.",
			},
			[]string{"kind", "outcome", "auto"},
		),
		lockConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_conflicts_total",
				Help:      "Advisory locks not acquired within the wait, by scope.",
			},
			[]string{"scope"},
		),
		recalcs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entitlement_recalcs_total",
				Help:      "Entitlement recalculations, by category and result.",
			},
			[]string{"category", "result"},
		),
		recalcLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "entitlement_recalc_duration_seconds",
				Help:      "Time spent recalculating one entitlement.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
	}
	c.registry.MustRegister(
		c.levelsOpened,
		c.finalized,
		c.lockConflicts,
		c.recalcs,
		c.recalcLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Publish counts chain transitions. It never fails.
func (c *Collector) Publish(_ context.Context, ev approval.Event) error {
	switch e := ev.(type) {
	case approval.ApprovalAdvanced:
		c.levelsOpened.WithLabelValues(string(e.Ref.Kind), strconv.Itoa(e.NewLevel)).Inc()
	case approval.ApprovalFinalized:
		auto := "false"
		if e.Auto {
			auto = "true"
		}
		c.finalized.WithLabelValues(string(e.Ref.Kind), string(e.Outcome), auto).Inc()
	}
	return nil
}

// ObserveRecalc records one entitlement recalculation.
func (c *Collector) ObserveRecalc(categoryCode string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.recalcs.WithLabelValues(categoryCode, result).Inc()
	c.recalcLatency.Observe(took.Seconds())
}

// Locker wraps next, counting lock timeouts by the key's first segment.
func (c *Collector) Locker(next lock.Locker) lock.Locker {
	return &countingLocker{next: next, c: c}
}

type countingLocker struct {
	next lock.Locker
	c    *Collector
}

func (l *countingLocker) Acquire(ctx context.Context, key string, wait time.Duration) (lock.Unlock, error) {
	unlock, err := l.next.Acquire(ctx, key, wait)
	if lock.IsTimeout(err) {
		scope, _, _ := strings.Cut(key, ":")
		l.c.lockConflicts.WithLabelValues(scope).Inc()
	}
	return unlock, err
}

var (
	_ approval.Publisher   = (*Collector)(nil)
	_ entitlement.Observer = (*Collector)(nil)
)

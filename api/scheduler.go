/*
scheduler.go - Periodic entitlement recalculation

PURPOSE:
  Entitlements are a cache over approved leave and employee records.
  Changes that do not pass through the request service (a join date
  corrected by HR, a category quota edited, a new year starting) only
  reach the cached rows on the next recalculation. The scheduler runs
  RecalcAll for the current year on a fixed interval.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - A failing pass is logged and retried on the next tick
  - Disabled when the interval is zero (the default)

USAGE:
  scheduler := NewRecalcScheduler(entitlements, time.Hour, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Recalc endpoint (manual recalculation)
  - entitlement/engine.go: RecalcAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Recalculator recomputes every tracked entitlement of a year.
type Recalculator interface {
	RecalcAll(ctx context.Context, year int) (int, error)
}

// RecalcScheduler handles periodic entitlement recalculation.
type RecalcScheduler struct {
	Engine        Recalculator
	CheckInterval time.Duration
	Log           zerolog.Logger
	Now           func() time.Time

	// RunTimeout bounds one pass.
	RunTimeout time.Duration

	ticker  *time.Ticker
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewRecalcScheduler creates a new scheduler.
func NewRecalcScheduler(engine Recalculator, interval time.Duration, log zerolog.Logger) *RecalcScheduler {
	return &RecalcScheduler{
		Engine:        engine,
		CheckInterval: interval,
		Log:           log,
		Now:           time.Now,
		RunTimeout:    10 * time.Minute,
	}
}

// Start begins the scheduler. It is a no-op when disabled or already running.
func (rs *RecalcScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.CheckInterval <= 0 {
		rs.Log.Info().Msg("Recalc scheduler disabled")
		return
	}
	if rs.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.running = true
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Log.Info().Dur("interval", rs.CheckInterval).Msg("Recalc scheduler started")
}

// Stop stops the scheduler and waits for an in-flight pass to end.
func (rs *RecalcScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.running {
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	close(rs.stop)
	rs.wg.Wait()
	rs.running = false
	rs.Log.Info().Msg("Recalc scheduler stopped")
}

func (rs *RecalcScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunOnce(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.RunOnce(ctx)
		case <-rs.stop:
			return
		}
	}
}

// RunOnce recalculates the current year once.
func (rs *RecalcScheduler) RunOnce(ctx context.Context) {
	if rs.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.RunTimeout)
		defer cancel()
	}

	year := rs.Now().Year()
	start := time.Now()
	n, err := rs.Engine.RecalcAll(ctx, year)
	if err != nil {
		rs.Log.Error().Err(err).Int("year", year).Int("recomputed", n).Msg("Entitlement recalculation pass failed")
		return
	}
	rs.Log.Info().Int("year", year).Int("recomputed", n).Dur("took", time.Since(start)).Msg("Entitlement recalculation pass done")
}

/*
scheduler.go - Background maintenance scheduler

PURPOSE:
  Periodically runs the maintenance passes the engine needs to stay
  current without operator intervention:
  - SRO expiration sweep (points past their horizon)
  - NCNS finalization of yesterday's shifts
  - Raw scan retention purge

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Every pass is idempotent: settled points are skipped, existing
    records are left alone, and an empty purge is a no-op
  - A failure in one pass is logged and never blocks the others

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Manual sweep/finalize endpoints for the same passes
  - engine/expiration.go: The sweep implementation
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// SweepScheduler drives the scheduled maintenance passes.
type SweepScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(handler *Handler) *SweepScheduler {
	return &SweepScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ss *SweepScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.runPasses()

	for {
		select {
		case <-ss.ticker.C:
			ss.runPasses()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SweepScheduler) runPasses() {
	ctx := context.Background()
	now := time.Now().UTC()

	log.Printf("[Scheduler] Running maintenance passes at %v", now.Format(time.RFC3339))

	// Point expiration sweep
	sweep, err := ss.Handler.Expiration.SweepSRO(ctx)
	if err != nil {
		log.Printf("[Scheduler] Expiration sweep failed: %v", err)
	} else if sweep.Expired > 0 || sweep.Failed > 0 {
		log.Printf("[Scheduler] Sweep: %d scanned, %d expired, %d skipped, %d failed",
			sweep.Scanned, sweep.Expired, sweep.Skipped, sweep.Failed)
	}

	// NCNS finalization for yesterday. Today's cross-midnight shifts may
	// still be open; FinalizeDate skips anything not fully elapsed.
	yesterday := attendance.DateOf(now).AddDate(0, 0, -1)
	fin, err := ss.Handler.Reconciler.FinalizeDate(ctx, yesterday)
	if err != nil {
		log.Printf("[Scheduler] Finalization failed for %s: %v", yesterday.Format("2006-01-02"), err)
	} else if fin.Finalized > 0 || len(fin.Errors) > 0 {
		log.Printf("[Scheduler] Finalized %s: %d checked, %d finalized, %d skipped, %d errors",
			yesterday.Format("2006-01-02"), fin.Checked, fin.Finalized, fin.Skipped, len(fin.Errors))
	}

	// Scan retention purge
	purged, err := ss.Handler.Expiration.PurgeScans(ctx)
	if err != nil {
		log.Printf("[Scheduler] Scan purge failed: %v", err)
	} else if purged > 0 {
		log.Printf("[Scheduler] Purged %d scans past retention", purged)
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (ss *SweepScheduler) RunNow() {
	ss.runPasses()
}

// GetNextRunTime returns when the next scheduled pass will occur.
func (ss *SweepScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(ss.CheckInterval)
}

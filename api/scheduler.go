/*
scheduler.go - Daily telemetry ingestion scheduler

PURPOSE:
  Runs the ingestion flow once per day at a fixed UTC wall-clock time, so
  the record store accumulates one odometer reading per day without manual
  intervention.

DESIGN:
  - Runs a background goroutine that sleeps until the next slot
  - Ingestion failures are logged and retried at the next slot, never
    mid-day
  - Same-day duplicates are handled inside the Ingestor (skip/append)

CONFIGURATION:
  - Hour/Minute: UTC wall-clock slot (default: 10:20)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewFetchScheduler(ingestor)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ingest.go: The flow each run executes
  - handlers.go: FetchMileage endpoint (manual trigger)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// FetchScheduler triggers the daily odometer ingestion.
type FetchScheduler struct {
	Ingestor *Ingestor
	Hour     int
	Minute   int
	Enabled  bool

	stop chan bool
	wg   sync.WaitGroup
	mu   sync.Mutex

	started bool
	now     func() time.Time // overridable in tests
}

// NewFetchScheduler creates a scheduler firing daily at 10:20 UTC.
func NewFetchScheduler(ingestor *Ingestor) *FetchScheduler {
	return &FetchScheduler{
		Ingestor: ingestor,
		Hour:     10,
		Minute:   20,
		Enabled:  true,
		stop:     make(chan bool),
		now:      time.Now,
	}
}

// Start begins the scheduler.
func (fs *FetchScheduler) Start() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if fs.started {
		return
	}
	// Fresh channel per cycle; Stop closed the previous one.
	fs.stop = make(chan bool)
	fs.started = true

	fs.wg.Add(1)
	go fs.run()

	log.Printf("[Scheduler] Started, daily fetch at %02d:%02d UTC", fs.Hour, fs.Minute)
}

// Stop stops the scheduler.
func (fs *FetchScheduler) Stop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.started {
		close(fs.stop)
		fs.wg.Wait()
		fs.started = false
		log.Println("[Scheduler] Stopped")
	}
}

func (fs *FetchScheduler) run() {
	defer fs.wg.Done()

	for {
		now := fs.now().UTC()
		timer := time.NewTimer(fs.nextSlotFrom(now).Sub(now))

		select {
		case <-timer.C:
			fs.runOnce()
		case <-fs.stop:
			timer.Stop()
			return
		}
	}
}

func (fs *FetchScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := fs.Ingestor.Run(ctx)
	if err != nil {
		log.Printf("[Scheduler] Ingestion failed, retrying at next slot: %v", err)
		return
	}
	log.Printf("[Scheduler] Ingestion done: %s (%d km)", result.Status, result.Km)
}

// nextSlotFrom returns the first HH:MM UTC occurrence strictly after now.
// All callers derive both slot and wait from one clock reading, keeping the
// result at exact second precision.
func (fs *FetchScheduler) nextSlotFrom(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), fs.Hour, fs.Minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunNow triggers an immediate ingestion (for testing/admin).
func (fs *FetchScheduler) RunNow() {
	fs.runOnce()
}

// NextRunTime returns when the next scheduled ingestion will occur.
func (fs *FetchScheduler) NextRunTime() time.Time {
	return fs.nextSlotFrom(fs.now().UTC())
}

// Package refresher updates caches on a fixed interval.
package refresher

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"

	"github.com/ts4z/contentqueue/dep"
	"github.com/ts4z/contentqueue/varz"
)

const DefaultInterval = 60 * time.Second

var (
	updatesVar  = varz.NewInt("updates")
	failuresVar = varz.NewInt("failures")
	skippedVar  = varz.NewInt("skipped")
)

// UpdateFunc does one update pass.  An error is logged and otherwise
// ignored; the next tick tries again.
type UpdateFunc func(ctx context.Context) error

type Refresher struct {
	update   UpdateFunc
	interval time.Duration
	clock    clockwork.Clock

	running atomic.Bool
	updates atomic.Int64
	skipped atomic.Int64
}

func New(update UpdateFunc, interval time.Duration, clock clockwork.Clock) *Refresher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Refresher{
		update:   dep.Required(update),
		interval: interval,
		clock:    clock,
	}
}

// Run calls the update on every tick until ctx is done, then waits for
// an update still running.  A tick that arrives while the previous
// update is running is skipped.
func (r *Refresher) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	var wg conc.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !r.running.CompareAndSwap(false, true) {
				r.skipped.Add(1)
				skippedVar.Add(1)
				log.Printf("refresher: update still running, skipping tick")
				continue
			}
			wg.Go(func() {
				r.runOnce(ctx)
				r.running.Store(false)
				r.updates.Add(1)
			})
		}
	}
}

func (r *Refresher) runOnce(ctx context.Context) {
	start := r.clock.Now()
	err := r.update(ctx)
	updatesVar.Add(1)
	if err != nil {
		failuresVar.Add(1)
		log.Printf("refresher: update failed after %v: %v", r.clock.Since(start), err)
	}
}

// Updates is how many updates have finished.
func (r *Refresher) Updates() int64 {
	return r.updates.Load()
}

// Skipped is how many ticks found an update still running.
func (r *Refresher) Skipped() int64 {
	return r.skipped.Load()
}

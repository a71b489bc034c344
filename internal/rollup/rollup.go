// Package rollup implements the background statistics-rollup worker:
// it fires on its own thread every configured period, finalizes every
// zone's short-term window under the store's write-adjacent bookkeeping,
// and notifies a publisher.
package rollup

import (
	"context"
	"log/slog"
	"time"

	"github.com/roadlens/roadlens/internal/store"
	"github.com/roadlens/roadlens/internal/zone"
)

// WindowResult is one zone's freshly finalized window, handed to
// OnWindow for publishing/persistence.
type WindowResult struct {
	ZoneID string
	Stats  zone.Stats
}

// Worker runs FinalizeWindow across every zone in a SharedStore on a
// fixed period.
type Worker struct {
	store    *store.SharedStore
	period   time.Duration
	log      *slog.Logger
	OnWindow func(WindowResult)

	// OnTick fires once per tick with every zone's freshly finalized
	// result, after all of OnWindow's per-zone calls. The publisher
	// uses this to emit one /api/stats/all-shaped message per tick
	// rather than one message per zone.
	OnTick func([]WindowResult)

	TicksSkipped uint64
}

// New creates a rollup worker; period is typically 1-60 seconds.
func New(st *store.SharedStore, period time.Duration, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if period <= 0 {
		period = time.Second
	}
	return &Worker{store: st, period: period, log: log.With("component", "rollup")}
}

// Run ticks every period until ctx is canceled. Each tick advances the
// store's window bounds (period_start_{i+1} = period_end_i, never
// compounding an oversleep) and finalizes every zone under that window.
// A recovered panic during one zone's finalize is treated as a
// LockPoisoned-style failure: the tick is skipped and logged, never
// propagated.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.tick(now)
		}
	}
}

func (w *Worker) tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			w.TicksSkipped++
			w.log.Error("rollup tick recovered from panic, skipping", "panic", r)
		}
	}()

	periodStart, periodEnd := w.store.AdvanceWindow(now)

	zones := w.store.Zones()
	results := make([]WindowResult, 0, len(zones))
	for _, z := range zones {
		stats := z.FinalizeWindow(periodStart, periodEnd)
		r := WindowResult{ZoneID: z.ID, Stats: stats}
		results = append(results, r)
		if w.OnWindow != nil {
			w.OnWindow(r)
		}
	}

	if w.OnTick != nil {
		w.OnTick(results)
	}
}

// TickOnce runs a single finalize pass immediately, used by tests and by
// a manual "flush now" debug hook.
func (w *Worker) TickOnce(now time.Time) {
	w.tick(now)
}

package dispatch

import (
	"context"
	"time"

	"github.com/example/emergency-dispatch/internal/observability"
)

// Reaper periodically evicts ledger records older than the retention
// window, regardless of status. It is a memory bound, not a cleanup
// mechanism: completed and even actively accepted records go too.
type Reaper struct {
	c        *Coordinator
	interval time.Duration
	maxAge   time.Duration
}

func NewReaper(c *Coordinator, interval, maxAge time.Duration) *Reaper {
	return &Reaper{c: c, interval: interval, maxAge: maxAge}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.SweepOnce()
		}
	}
}

// SweepOnce evicts everything past the retention window and returns how
// many records were removed. It takes the coordinator lock so a sweep never
// interleaves with a mutating operation.
func (r *Reaper) SweepOnce() int {
	r.c.mu.Lock()
	evicted := r.c.ledger.Sweep(r.maxAge)
	r.c.mu.Unlock()

	for _, rec := range evicted {
		r.c.Logger.Info("request evicted", "sos_id", rec.ID, "status", rec.Status, "age", time.Since(rec.CreatedAt).String())
		if r.c.Archive != nil {
			if err := r.c.Archive.ArchiveRequest(rec); err != nil {
				r.c.Logger.Warn("archive of evicted request failed", "sos_id", rec.ID, "error", err)
			}
		}
		r.c.audit("sosEvicted", rec.ID, nil)
	}
	if n := len(evicted); n > 0 {
		observability.SOSEvicted.Add(float64(n))
		return n
	}
	return 0
}

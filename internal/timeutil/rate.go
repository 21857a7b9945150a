package timeutil

import (
	"context"
	"time"
)

// Rate paces a loop at a fixed period. Each call to Sleep waits for the
// remainder of the current period measured from the previous deadline, so
// work done inside the loop does not stretch the cadence. When an iteration
// overruns its period the schedule is re-anchored at the current time rather
// than bursting to catch up.
type Rate struct {
	clock    Clock
	period   time.Duration
	next     time.Time
	overruns uint64
}

// NewRate starts a schedule whose first deadline is one period from now.
func NewRate(clock Clock, period time.Duration) *Rate {
	return &Rate{
		clock:  clock,
		period: period,
		next:   clock.Now().Add(period),
	}
}

// Period returns the configured period.
func (r *Rate) Period() time.Duration { return r.period }

// Overruns returns how many iterations finished after their deadline.
func (r *Rate) Overruns() uint64 { return r.overruns }

// Sleep blocks until the next deadline or until ctx is done, in which case
// it returns ctx.Err().
func (r *Rate) Sleep(ctx context.Context) error {
	now := r.clock.Now()
	remaining := r.next.Sub(now)
	if remaining > 0 {
		if err := Sleep(ctx, r.clock, remaining); err != nil {
			return err
		}
		r.next = r.next.Add(r.period)
		return nil
	}

	r.overruns++
	r.next = now.Add(r.period)
	return ctx.Err()
}

// Sleep waits for d on clock, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

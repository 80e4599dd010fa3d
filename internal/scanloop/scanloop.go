// Package scanloop runs a function on a repeating, optionally jittered
// schedule until its context ends.
package scanloop

import (
	"context"
	"math/rand/v2"
	"time"
)

const minPeriod = 10 * time.Millisecond

// Schedule describes the delay between two runs. Period is read before
// every wait so callers can back it with live configuration.
type Schedule struct {
	Period func() time.Duration
	Jitter time.Duration
}

// Fixed returns a Schedule with a constant period and no jitter.
func Fixed(d time.Duration) Schedule {
	return Schedule{Period: func() time.Duration { return d }}
}

func (s Schedule) next() time.Duration {
	d := minPeriod
	if s.Period != nil {
		d = max(s.Period(), minPeriod)
	}
	if s.Jitter > 0 {
		d += rand.N(s.Jitter)
	}
	return d
}

// Run waits one period, calls fn, and repeats. It returns ctx.Err() once
// ctx is done; fn is never called after that point.
func Run(ctx context.Context, s Schedule, fn func(context.Context)) error {
	timer := time.NewTimer(s.next())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(ctx)
		timer.Reset(s.next())
	}
}

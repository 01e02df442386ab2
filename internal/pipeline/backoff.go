package pipeline

import (
	"context"
	"math/rand"
	"time"
)

// backoff paces retries after capture failures. With max <= base the wait is
// fixed; otherwise it doubles per failure up to max with ±20% jitter.
type backoff struct {
	base time.Duration
	max  time.Duration
	cur  time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &backoff{base: base, max: max}
}

// Next advances the schedule and returns the wait for this failure.
func (b *backoff) Next() time.Duration {
	if b.max <= b.base {
		b.cur = b.base
		return b.base
	}
	if b.cur <= 0 {
		b.cur = b.base
	} else {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	j := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(b.cur) * j)
}

// Wait sleeps for d or until ctx is done. It reports false on cancellation.
func (b *backoff) Wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (b *backoff) Reset() { b.cur = 0 }

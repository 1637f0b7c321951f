package scheduler

import "time"

// backoffFloor is the baseline cooldown a failed record waits before it
// may be requeued.
const backoffFloor = 30 * time.Second

// RetryPolicy decides how long a failed operation cools down after an
// attempt. Implementations must be safe for concurrent use.
type RetryPolicy interface {
	// Cooldown returns the required wait after the latest attempt,
	// given the number of attempts made so far (at least 1).
	Cooldown(attempts int) time.Duration
}

// FixedBackoff waits a flat cooldown between attempts. This is the
// baseline policy; the floor defaults to 30 seconds.
type FixedBackoff struct {
	Floor time.Duration
}

// Cooldown implements RetryPolicy.
func (f FixedBackoff) Cooldown(int) time.Duration {
	if f.Floor > 0 {
		return f.Floor
	}
	return backoffFloor
}

// ExponentialBackoff doubles the cooldown with each attempt, capped at
// Max. Substitutable for FixedBackoff where flat retries hammer a
// struggling remote store.
type ExponentialBackoff struct {
	Base time.Duration // first cooldown (default: 30s)
	Max  time.Duration // cap (default: 15m)
}

// Cooldown implements RetryPolicy.
func (e ExponentialBackoff) Cooldown(attempts int) time.Duration {
	base := e.Base
	if base <= 0 {
		base = backoffFloor
	}
	max := e.Max
	if max <= 0 {
		max = 15 * time.Minute
	}

	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

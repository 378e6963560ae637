package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy yields the delay to sleep before a retry.
type BackoffStrategy interface {
	// NextDelay returns the delay after the given failed attempt
	// (1-based). Attempt 0 and below yield no delay.
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay geometrically per attempt, capped
// at MaxDelay, with optional jitter spreading concurrent retriers.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor in [0,1] widens each delay by a random fraction of
	// itself in either direction.
	JitterFactor float64
}

// DefaultExponentialBackoff is 1s doubling up to 30s with 10% jitter.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	d := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(eb.MaxDelay))
	if eb.JitterFactor > 0 {
		spread := d * eb.JitterFactor
		d += rand.Float64()*2*spread - spread
	}
	return time.Duration(math.Max(d, 0))
}

// ConstantBackoff waits the same delay before every retry.
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait sleeps for delay unless ctx ends first.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates outbound requests. Wait blocks until the next request
// may be issued or the context is cancelled.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RandomDelay inserts a uniformly random pause in [Min, Max) before
// every request. The platform tolerates slow, human-looking traffic;
// a fixed interval is easier to fingerprint than a jittered one.
type RandomDelay struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
	// sleep is replaceable so tests can run without real delays
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRandomDelay creates a limiter pausing between min and max per request
func NewRandomDelay(min, max time.Duration) *RandomDelay {
	if max < min {
		max = min
	}
	return &RandomDelay{
		min:   min,
		max:   max,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepContext,
	}
}

// NewRandomDelayWithSource creates a limiter with an injected random
// source and sleep function, for deterministic tests.
func NewRandomDelayWithSource(min, max time.Duration, src rand.Source, sleep func(context.Context, time.Duration) error) *RandomDelay {
	rd := NewRandomDelay(min, max)
	if src != nil {
		rd.rng = rand.New(src)
	}
	if sleep != nil {
		rd.sleep = sleep
	}
	return rd
}

// Wait pauses for a random duration within the configured window
func (rd *RandomDelay) Wait(ctx context.Context) error {
	return rd.sleep(ctx, rd.NextDelay())
}

// NextDelay returns the next pause duration without sleeping
func (rd *RandomDelay) NextDelay() time.Duration {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	span := rd.max - rd.min
	if span <= 0 {
		return rd.min
	}
	return rd.min + time.Duration(rd.rng.Int63n(int64(span)))
}

// PerMinute caps the request rate at n per minute using a token
// bucket. The cap is global to the session credential, not per target.
type PerMinute struct {
	limiter *rate.Limiter
}

// NewPerMinute creates a limiter allowing n requests per minute
func NewPerMinute(n int) *PerMinute {
	return &PerMinute{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1),
	}
}

// Wait blocks until a token is available
func (p *PerMinute) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Chain applies several limiters in order; every limiter must admit
// the request before it proceeds.
type Chain []Limiter

// Wait blocks on each limiter in turn
func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// None is a pass-through limiter for tests and dry runs
type None struct{}

func (None) Wait(ctx context.Context) error { return ctx.Err() }

// sleepContext sleeps for d or until ctx is cancelled
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

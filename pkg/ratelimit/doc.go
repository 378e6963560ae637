// Package ratelimit centralizes the crawler's outbound request pacing.
//
// The platform tolerates slow sequential traffic on a single session
// credential, so pacing is expressed as composable policies rather
// than scattered sleeps in caller code:
//
//   - RandomDelay: a jittered pause within a fixed window before every
//     request (the crawler's default, roughly 200-400ms).
//   - PerMinute: an optional global requests-per-minute cap backed by
//     golang.org/x/time/rate.
//   - Chain: applies several policies in order.
//
// All policies implement the Limiter interface, whose single method
// Wait(ctx) blocks until the next request may be issued. RandomDelay
// accepts an injected random source and sleep function so tests run
// deterministically and without real delays.
//
//	limiter := ratelimit.Chain{
//	    ratelimit.NewRandomDelay(200*time.Millisecond, 400*time.Millisecond),
//	    ratelimit.NewPerMinute(120),
//	}
//	if err := limiter.Wait(ctx); err != nil { ... }
package ratelimit

// Package retry provides backoff and retry logic for transient failures
// in comment API calls.
//
// Features:
//   - Exponential and constant backoff strategies
//   - Jitter to spread out retry bursts
//   - Context support for cancellation
//   - Configurable retry predicates
//   - Integration with the pipeline's typed errors
//
// Basic usage:
//
//	// Simple retry with defaults
//	err := retry.Do(func() error {
//		return client.FetchRootPage(ctx, oid, typ, cursor)
//	}, nil)
//
//	// Custom configuration
//	cfg := &retry.Config{
//		MaxAttempts: 5,
//		Backoff: &retry.ExponentialBackoff{
//			BaseDelay:    2 * time.Second,
//			MaxDelay:     30 * time.Second,
//			Multiplier:   2.0,
//			JitterFactor: 0.1,
//		},
//		RetryIf: retry.DefaultRetryIf,
//		Logger:  logger.GetLogger(),
//	}
//	err := retry.Do(operation, cfg)
//
// The default predicate retries network, rate-limit and server errors.
// Auth and parsing errors are returned immediately: they invalidate the
// rest of the run instead of resolving on their own.
package retry

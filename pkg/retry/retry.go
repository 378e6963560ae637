package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "bilicrawl/pkg/errors"
	"bilicrawl/pkg/logger"
)

// Operation is the unit of work handed to Do.
type Operation func() error

// OperationWithResult is an Operation that also produces a value.
type OperationWithResult[T any] func() (T, error)

// Config controls how an operation is retried.
type Config struct {
	// MaxAttempts caps the total number of attempts. 0 removes the
	// cap; the context is then the only way to stop.
	MaxAttempts int
	// Backoff yields the delay before each retry.
	Backoff BackoffStrategy
	// RetryIf decides whether a given error is worth another attempt.
	RetryIf func(error) bool
	// OnRetry, when set, is invoked before each retry with the failed
	// attempt number, its error and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Context cancels waits between attempts.
	Context context.Context
	// Logger receives attempt-level diagnostics.
	Logger logger.Logger
}

// DefaultConfig covers the common case: three attempts with jittered
// exponential backoff, retrying only transient API failures.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.GetLogger(),
	}
}

// DefaultRetryIf retries transient fetch failures. Typed fatal errors
// (expired session, malformed payload) and context cancellation stop
// immediately; untyped errors are assumed transient.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return errs.IsRetryable(apiErr.Type)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Do runs op until it succeeds, RetryIf rejects its error, the attempt
// cap is hit, or the context is cancelled. When attempts run out the
// last error is returned wrapped, so errors.As still reaches it.
func Do(op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			if cfg.Logger != nil {
				cfg.Logger.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
					"attempts":   attempt - 1,
					"last_error": lastErr.Error(),
				})
			}
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}

		lastErr = op()
		if lastErr == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		if !cfg.RetryIf(lastErr) {
			return lastErr
		}

		delay := cfg.Backoff.NextDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}
		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"error":        lastErr.Error(),
				"delay_ms":     delay.Milliseconds(),
				"max_attempts": cfg.MaxAttempts,
			})
		}
		if err := Wait(cfg.Context, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](op OperationWithResult[T], cfg *Config) (T, error) {
	var result T
	err := Do(func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)
	return result, err
}

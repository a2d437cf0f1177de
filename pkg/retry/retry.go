package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "imgbatch/pkg/errors"
	"imgbatch/pkg/logger"
)

// ErrMaxAttempts is wrapped into the error returned once every attempt failed
// with a retryable error.
var ErrMaxAttempts = errors.New("max retry attempts exceeded")

// Operation performs one attempt. attempt is one-based.
type Operation func(ctx context.Context, attempt int) error

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the total number of attempts, including the first (0 means unlimited)
	MaxAttempts int
	// Backoff strategy to use between attempts
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry wait
	OnRetry func(attempt int, err error, delay time.Duration)
	// Context for cancellation
	Context context.Context
	// Logger for retry attempts, nil disables logging
	Logger logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Second},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}
}

// DefaultRetryIf retries classified transient errors and anything
// unclassified except context cancellation. Classification wins, so a
// transient error wrapping a per-attempt deadline is still retried.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return errs.IsRetryable(e.Kind)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

// Do executes op until it succeeds, returns a non-retryable error, the
// attempt budget is spent or the context is cancelled. It returns the number
// of attempts made alongside the final error.
func Do(op Operation, cfg *Config) (int, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	if cfg.Backoff != nil {
		cfg.Backoff.Reset()
	}

	var lastErr error
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt, fmt.Errorf("retry cancelled: %w", errors.Join(err, lastErr))
			}
			return attempt, fmt.Errorf("retry cancelled: %w", err)
		}

		attempt++
		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return attempt, nil
		}

		lastErr = err

		if !retryIf(err) {
			if cfg.Logger != nil {
				cfg.Logger.DebugWithFields("error is not retryable", map[string]interface{}{
					"attempt": attempt,
					"error":   err.Error(),
				})
			}
			return attempt, err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			if cfg.Logger != nil {
				cfg.Logger.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
					"attempts":   attempt,
					"last_error": err.Error(),
				})
			}
			return attempt, fmt.Errorf("%w (%d): %w", ErrMaxAttempts, cfg.MaxAttempts, err)
		}

		var delay time.Duration
		if cfg.Backoff != nil {
			delay = cfg.Backoff.NextDelay(attempt)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"error":        err.Error(),
				"delay_ms":     delay.Milliseconds(),
				"max_attempts": cfg.MaxAttempts,
			})
		}

		if err := Wait(ctx, delay); err != nil {
			return attempt, fmt.Errorf("retry cancelled: %w", errors.Join(err, lastErr))
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](op func(ctx context.Context, attempt int) (T, error), cfg *Config) (T, int, error) {
	var result T

	attempts, err := Do(func(ctx context.Context, attempt int) error {
		var opErr error
		result, opErr = op(ctx, attempt)
		return opErr
	}, cfg)

	return result, attempts, err
}

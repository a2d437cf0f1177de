// Package retry runs an operation repeatedly with a backoff between attempts.
//
// Attempts are bounded by Config.MaxAttempts, which counts the first attempt.
// Errors classified by imgbatch/pkg/errors are retried only when their kind
// is transient; context cancellation is never retried.
//
//	attempts, err := retry.Do(func(ctx context.Context, attempt int) error {
//		return fetch(ctx, url)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     &retry.ConstantBackoff{Delay: 500 * time.Millisecond},
//		Context:     ctx,
//		Logger:      log,
//	})
//	if errors.Is(err, retry.ErrMaxAttempts) {
//		// every attempt failed transiently
//	}
package retry

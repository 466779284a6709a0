package fn

import (
	"context"
	"time"
)

// RetryOpts configures Retry. Attempts counts the first call, so Attempts=2
// means one retry.
type RetryOpts struct {
	Attempts int
	Wait     time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries
	// every error.
	Retryable func(error) bool
}

// Retry calls f until it succeeds, attempts run out, the error is not
// retryable, or ctx is done. The wait between attempts is fixed.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	var result Result[T]
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		result = f(ctx)
		if result.IsOk() || attempt == opts.Attempts-1 {
			return result
		}
		if opts.Retryable != nil && !opts.Retryable(result.err) {
			return result
		}
		if opts.Wait > 0 {
			select {
			case <-ctx.Done():
				return Err[T](ctx.Err())
			case <-time.After(opts.Wait):
			}
		} else if ctx.Err() != nil {
			return Err[T](ctx.Err())
		}
	}
	return result
}

package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable reports whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	// OnRetry is called before each sleep with the failed attempt number
	// (starting at 1) and its error.
	OnRetry func(attempt int, err error)
}

// Retry retries f up to MaxAttempts times with exponential backoff.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	var result Result[T]
	wait := opts.InitialWait
	attempts := max(opts.MaxAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		result = f(ctx)
		if result.IsOk() || attempt == attempts {
			return result
		}
		_, err := result.Unwrap()
		if opts.Retryable != nil && !opts.Retryable(err) {
			return result
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}

		sleepDur := wait
		if opts.Jitter {
			sleepDur = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && sleepDur > opts.MaxWait {
			sleepDur = opts.MaxWait
		}

		timer := time.NewTimer(sleepDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Err[T](ctx.Err())
		case <-timer.C:
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result
}

// RetryErr is Retry for functions that only return an error.
func RetryErr(ctx context.Context, opts RetryOpts, f func(context.Context) error) error {
	_, err := Retry(ctx, opts, func(ctx context.Context) Result[struct{}] {
		return FromPair(struct{}{}, f(ctx))
	}).Unwrap()
	return err
}

package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMaxAttemptsExhausted wraps the last error once every attempt failed.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// RetryHinter is implemented by errors that carry a server-requested delay,
// such as an HTTP Retry-After header.
type RetryHinter interface {
	RetryDelay() time.Duration
}

// Retry runs fn until it succeeds, retryable rejects its error, ctx ends or
// maxAttempts calls have been made. A nil retryable retries every error.
//
// Between attempts it sleeps policy.Delay(attempt), stretched to any
// RetryHinter delay in the error chain but never beyond policy.Max.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(attempt int) (T, error),
) (T, error) {
	var zero T
	maxAttempts = max(maxAttempts, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(attempt)
		switch {
		case err == nil:
			return value, nil
		case retryable != nil && !retryable(err):
			return zero, err
		case attempt >= maxAttempts:
			return zero, fmt.Errorf("%w: %w", ErrMaxAttemptsExhausted, err)
		}
		if err := Sleep(ctx, retryDelay(policy, attempt, err)); err != nil {
			return zero, err
		}
	}
}

func retryDelay(policy Policy, attempt int, err error) time.Duration {
	d := policy.Delay(attempt)
	var hint RetryHinter
	if errors.As(err, &hint) {
		d = max(d, hint.RetryDelay())
	}
	if policy.Max > 0 {
		d = min(d, policy.Max)
	}
	return d
}

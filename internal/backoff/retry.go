package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrRetriesExhausted wraps the final error after all attempts failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Retryable reports whether an error is worth another attempt. A nil
// classifier retries everything.
type Retryable func(error) bool

// Retry runs fn up to p.MaxRetries+1 times, sleeping per the policy between
// attempts. The delay for a given attempt can be overridden by returning a
// positive override from fn via RetryAfterError.
func Retry[T any](ctx context.Context, p Policy, retryable Retryable, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			var ra *RetryAfterError
			if errors.As(lastErr, &ra) && ra.Delay > 0 {
				delay = ra.Delay
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, errors.Join(ErrRetriesExhausted, lastErr)
}

// RetryAfterError carries a server-instructed delay (from a Retry-After
// header) alongside the underlying error.
type RetryAfterError struct {
	Delay time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }
func (e *RetryAfterError) Unwrap() error { return e.Err }

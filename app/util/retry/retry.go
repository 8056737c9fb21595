package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

const (
	DefaultMaxAttempts = 2
	DefaultBackoff     = 500 * time.Millisecond
)

type Policy struct {
	MaxAttempts int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
	// Timeout bounds a single attempt, zero means no per-attempt limit.
	Timeout time.Duration
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// Do runs op until it succeeds or the policy is exhausted and returns the
// last failure. Cancellation of ctx stops further attempts.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := p.Backoff * time.Duration(attempt)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		result, err := runAttempt(ctx, p.Timeout, op)
		if err == nil {
			return result, nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return zero, permanent.err
		}

		lastErr = err

		slog.Debug("Attempt failed",
			"operation", name,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"error", err,
		)

		if ctx.Err() != nil {
			return zero, errors.Join(lastErr, ctx.Err())
		}
	}

	return zero, oops.
		In("retry").
		With("operation", name, "attempts", attempts).
		Wrapf(lastErr, "%s failed after %d attempts", name, attempts)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (result T, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = oops.In("retry").Errorf("panic: %v", r)
		}
	}()

	return op(ctx)
}

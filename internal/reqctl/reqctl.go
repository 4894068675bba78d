// Package reqctl wraps arbitrary async actions with cancellation, deadline,
// and bounded exponential-backoff retry. Both transports build on it.
package reqctl

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks an attempt that exceeded its per-call deadline.
var ErrTimeout = errors.New("request timed out")

// StatusError is an HTTP response with a non-success status code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("RPC HTTP %d", e.Code)
}

// Options configure a controlled call.
type Options struct {
	// Timeout bounds each individual attempt. Zero means no per-attempt
	// deadline beyond the caller's context.
	Timeout time.Duration
	// Retries is the number of additional attempts after the first.
	Retries int
	// RetryDelay is the base backoff delay; doubled per attempt up to
	// MaxRetryDelay. Zero values use the package defaults.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// ShouldRetry, when set, vetoes retries for errors it rejects.
	ShouldRetry func(error) bool
	// ShouldRetryStatus, when set, decides retries for StatusError values
	// and takes precedence over ShouldRetry for them.
	ShouldRetryStatus func(code int) bool
}

const (
	defaultRetryDelay    = 500 * time.Millisecond
	defaultMaxRetryDelay = 8 * time.Second
	maxBackoffExponent   = 10
)

// Backoff returns the delay before the retry following the given attempt
// (0-based): min(maxDelay, delay << attempt) with the exponent capped at 10.
func Backoff(attempt int, delay, maxDelay time.Duration) time.Duration {
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	if maxDelay <= 0 {
		maxDelay = defaultMaxRetryDelay
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}
	d := delay << uint(attempt)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// Do runs fn under the configured deadline and retry policy. Cancellation of
// ctx ends the loop immediately; the last attempt's error is returned when
// retries are exhausted.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptCtx := ctx
		cancel := func() {}
		if opts.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		}
		result, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}

		// The caller's cancellation wins over the attempt deadline.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		lastErr = err

		if attempt >= opts.Retries || !shouldRetry(opts, err) {
			return zero, lastErr
		}

		timer := time.NewTimer(Backoff(attempt, opts.RetryDelay, opts.MaxRetryDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

func shouldRetry(opts Options, err error) bool {
	var status *StatusError
	if errors.As(err, &status) && opts.ShouldRetryStatus != nil {
		return opts.ShouldRetryStatus(status.Code)
	}
	if opts.ShouldRetry != nil {
		return opts.ShouldRetry(err)
	}
	return true
}

// IsCancelled reports whether err stems from caller cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err stems from an exhausted deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

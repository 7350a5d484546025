package chain

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// permanentError marks a failure that another attempt cannot fix.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Retry returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// retryable reports whether err is worth another call. Context errors and
// reverted eth_calls (errors carrying revert data) are final.
func retryable(err error) bool {
	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var reverted rpc.DataError
	return !errors.As(err, &reverted)
}

// Retry calls fn until it succeeds, doubling the delay after each transient
// failure up to maxDelay. It gives up after maxRetries retries, on the first
// permanent error, or when ctx is done.
func Retry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case !retryable(err):
			var perm permanentError
			if errors.As(err, &perm) {
				return perm.err
			}
			return err
		case attempt >= maxRetries:
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if delay < maxDelay {
			delay *= 2
		}
	}
}

const maxDelay = 30 * time.Second

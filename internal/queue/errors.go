package queue

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStopped   = errors.New("job queue stopped")
	ErrStopping  = errors.New("job queue stopping")
	ErrQueueFull = errors.New("job queue full")
	ErrNoHandler = errors.New("no handler subscribed for job type")
)

// NoRetry marks an error as non-retryable.
//
// Handlers wrap permanent failures (bad payload, terminal classification)
// with NoRetry so the queue won't burn the attempt budget on them.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter provides a suggested delay before the next attempt, e.g. when
// Telegram answers 429 with a retry_after value. The queue respects the hint
// (bounded by RetryMaxDelay) and still applies jitter.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

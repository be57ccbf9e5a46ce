// Package retry runs an operation under a bounded retry policy: a maximum
// number of attempts, a backoff function, and a predicate deciding which
// errors are worth another attempt. Errors may carry their own delay (for
// example an upstream retry-after), which then replaces the backoff.
//
// Sleeping goes through Policy.Sleep so tests can inject a fake.
package retry

import (
	"context"
	"errors"
	"time"
)

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy describes how an operation is retried. The zero value makes a
// single attempt.
type Policy struct {
	MaxAttempts int                             // total attempts, including the first
	Backoff     func(attempt int) time.Duration // delay after the failed attempt (0-based)
	Retryable   func(err error) bool            // nil means every error is retryable
	Sleep       Sleeper                         // nil means a context-aware timer

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Exponential returns base, 2*base, 4*base, ... for attempts 0, 1, 2, ...
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base << attempt
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. It returns the number of attempts made and the last
// error. A wait interrupted by ctx returns ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var err error
	for attempt := 0; attempt < limit; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return attempt + 1, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt + 1, err
		}
		if attempt == limit-1 {
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if d, ok := DelayOf(err); ok {
			delay = d
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return attempt + 1, serr
		}
	}
	return limit, err
}

// delayedError attaches a mandatory wait to an error.
type delayedError struct {
	err   error
	after time.Duration
}

func (e *delayedError) Error() string { return e.err.Error() }
func (e *delayedError) Unwrap() error { return e.err }

// After wraps err so that the next retry waits exactly d instead of the
// policy backoff. A nil err stays nil.
func After(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &delayedError{err: err, after: d}
}

// DelayOf reports the wait attached to err by After, if any.
func DelayOf(err error) (time.Duration, bool) {
	var de *delayedError
	if errors.As(err, &de) {
		return de.after, true
	}
	return 0, false
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

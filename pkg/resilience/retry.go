// SPDX-License-Identifier: Apache-2.0

// Package resilience wraps remote agent and model calls with bounded retries,
// a circuit breaker and deadlines.
package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/crewkernel/pkg/errors"
)

// Retry repeats an operation a bounded number of times with a fixed pause
// between tries. Reply polling is the main user: the remote side answers
// within a few reads or not at all.
type Retry struct {
	// Attempts is the total number of tries, at least one.
	Attempts int
	// Interval is the pause between two tries.
	Interval time.Duration
	// Retryable reports whether a failed try is worth repeating. Nil means
	// Recoverable.
	Retryable func(error) bool
	// OnRetry runs before each pause with the number of the try that failed.
	OnRetry func(attempt int, err error)
}

// FixedDelay returns a Retry making attempts tries, interval apart.
func FixedDelay(attempts int, interval time.Duration) Retry {
	return Retry{Attempts: attempts, Interval: interval}
}

// Until returns a copy of r that only repeats errors accepted by retryable.
func (r Retry) Until(retryable func(error) bool) Retry {
	r.Retryable = retryable
	return r
}

type stopError struct{ err error }

func (s stopError) Error() string { return s.err.Error() }
func (s stopError) Unwrap() error { return s.err }

// Stop marks err as final: Do returns it unwrapped without another try.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err: err}
}

// Do calls fn until it succeeds, fails with a non retryable error or runs out
// of tries. The last error is returned. Cancelling ctx during a pause yields
// CONTEXT_LOST.
func (r Retry) Do(ctx context.Context, fn func() error) error {
	attempts := max(r.Attempts, 1)
	retryable := r.Retryable
	if retryable == nil {
		retryable = Recoverable
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var stop stopError
		if stderrors.As(err, &stop) {
			return stop.err
		}
		if attempt >= attempts || !retryable(err) {
			return err
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, err)
		}
		if werr := sleep(ctx, r.Interval); werr != nil {
			return errors.New(errors.CodeContextLost, "canceled while retrying", werr).
				WithContext("attempt", attempt).
				WithContext("max_attempts", attempts)
		}
	}
}

// Recoverable honors CrewError.Recoverable and treats any other error as
// transient.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	var ce *errors.CrewError
	if stderrors.As(err, &ce) {
		return ce.Recoverable
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

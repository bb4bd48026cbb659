// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/crewkernel/pkg/errors"
)

// WithTimeoutResult runs fn under a deadline of d. An exceeded deadline is
// reported as a recoverable TIMEOUT and a cancelled parent as CONTEXT_LOST,
// even when fn ignores its context. A non-positive d runs fn unbounded.
func WithTimeoutResult[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, deadlineError(ctx, d)
	case o := <-done:
		if o.err != nil && ctx.Err() != nil {
			return zero, deadlineError(ctx, d)
		}
		return o.value, o.err
	}
}

func deadlineError(ctx context.Context, d time.Duration) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Timeout(d)
	}
	return errors.New(errors.CodeContextLost, "operation canceled", ctx.Err())
}

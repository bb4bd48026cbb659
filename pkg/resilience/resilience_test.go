// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	cerrors "github.com/jllopis/crewkernel/pkg/errors"
)

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	err := FixedDelay(3, time.Millisecond).Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestFixedDelayRunsExactlyAttempts(t *testing.T) {
	attempts := 0
	var retries []int
	r := FixedDelay(5, time.Millisecond)
	r.OnRetry = func(attempt int, err error) { retries = append(retries, attempt) }

	err := r.Do(context.Background(), func() error {
		attempts++
		return errors.New("not yet")
	})
	if err == nil {
		t.Fatalf("expected error after the last attempt")
	}
	if attempts != 5 {
		t.Errorf("expected 5 attempts, got %d", attempts)
	}
	if len(retries) != 4 || retries[3] != 4 {
		t.Errorf("expected 4 pauses between 5 attempts, got %v", retries)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	err := FixedDelay(3, time.Millisecond).Do(context.Background(), func() error {
		attempts++
		return cerrors.Protocol("get activities", 401, "denied", nil)
	})
	if !cerrors.Is(err, cerrors.CodeProtocol) {
		t.Errorf("expected protocol error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryUntil(t *testing.T) {
	pending := errors.New("pending")
	attempts := 0
	err := FixedDelay(4, time.Millisecond).
		Until(func(err error) bool { return errors.Is(err, pending) }).
		Do(context.Background(), func() error {
			attempts++
			if attempts == 2 {
				return errors.New("other")
			}
			return pending
		})
	if err == nil || err.Error() != "other" || attempts != 2 {
		t.Errorf("expected to stop on the first non matching error, got %v after %d", err, attempts)
	}
}

func TestRetryStop(t *testing.T) {
	attempts := 0
	sentinel := errors.New("fatal")
	err := FixedDelay(5, time.Millisecond).Do(context.Background(), func() error {
		attempts++
		return Stop(sentinel)
	})
	if err != sentinel {
		t.Errorf("expected unwrapped sentinel, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := FixedDelay(10, 100*time.Millisecond).Do(ctx, func() error { return errors.New("transient error") })
	if !cerrors.Is(err, cerrors.CodeContextLost) {
		t.Errorf("expected CONTEXT_LOST, got %v", err)
	}
}

func TestCircuitBreakerOpensAndRejects(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Failures: 2, Name: "agent-a"})

	for i := 0; i < 2; i++ {
		_ = cb.Call(func() error { return errors.New("failure") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 2 failures, got %s", cb.State())
	}

	err := cb.Call(func() error {
		t.Fatalf("should not execute in open state")
		return nil
	})
	ce := cerrors.AsCrewError(err)
	if ce.Code != cerrors.CodeProtocol || !ce.Recoverable || ce.Context["breaker"] != "agent-a" {
		t.Errorf("expected recoverable protocol error, got %v", err)
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Failures: 2})
	_ = cb.Call(func() error { return errors.New("fail") })
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errors.New("fail") })
	if cb.State() != StateClosed {
		t.Errorf("expected non consecutive failures to keep the circuit closed")
	}
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Failures: 1, Probes: 2, Cooldown: time.Minute})
	clock := time.Now()
	cb.now = func() time.Time { return clock }

	_ = cb.Call(func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	clock = clock.Add(2 * time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", cb.State())
	}
	_ = cb.Call(func() error { return nil })
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected one probe to keep half-open, got %s", cb.State())
	}
	_ = cb.Call(func() error { return nil })
	if cb.State() != StateClosed {
		t.Errorf("expected closed after two probes, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Failures: 3, Cooldown: time.Minute})
	clock := time.Now()
	cb.now = func() time.Time { return clock }
	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return errors.New("fail") })
	}
	clock = clock.Add(2 * time.Minute)
	_ = cb.Call(func() error { return errors.New("still failing") })
	if cb.State() != StateOpen {
		t.Errorf("expected a single half-open failure to reopen, got %s", cb.State())
	}
}

func TestWithTimeoutResult(t *testing.T) {
	_, err := WithTimeoutResult(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !cerrors.Is(err, cerrors.CodeTimeout) {
		t.Errorf("expected TIMEOUT, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WithTimeoutResult(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !cerrors.Is(err, cerrors.CodeContextLost) {
		t.Errorf("expected CONTEXT_LOST, got %v", err)
	}

	got, err := WithTimeoutResult(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("expected 42, got %d (%v)", got, err)
	}
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryRunnerSucceedsOnAttemptK(t *testing.T) {
	attempts := 0
	runner := NewRetryRunner(RetryConfig{
		MaxAttempts: 5,
		Initial:     time.Millisecond,
		Base:        2,
		MaxDelay:    10 * time.Millisecond,
		Jitter:      false,
	}, nil)

	err := runner.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 invocations, got %d", attempts)
	}
}

func TestRetryRunnerGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	runner := NewRetryRunner(RetryConfig{
		MaxAttempts: 3,
		Initial:     time.Millisecond,
		Base:        2,
		MaxDelay:    10 * time.Millisecond,
	}, nil)

	wantErr := errors.New("persistent")
	err := runner.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected persistent error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryRunnerNonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	fatal := errors.New("fatal")
	runner := NewRetryRunner(RetryConfig{
		MaxAttempts: 5,
		Initial:     time.Millisecond,
		Base:        2,
		MaxDelay:    10 * time.Millisecond,
	}, func(err error) bool { return !errors.Is(err, fatal) })

	err := runner.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt, got %d", attempts)
	}
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})

	failing := errors.New("boom")
	invocations := 0
	for i := 0; i < 5; i++ {
		err := cb.Call(context.Background(), func(ctx context.Context) error {
			invocations++
			return failing
		})
		if !errors.Is(err, failing) {
			t.Fatalf("attempt %d: expected underlying error, got %v", i, err)
		}
	}
	if cb.State() != "OPEN" {
		t.Fatalf("expected OPEN after threshold failures, got %s", cb.State())
	}

	calledAfterTrip := false
	err := cb.Call(context.Background(), func(ctx context.Context) error {
		calledAfterTrip = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calledAfterTrip {
		t.Fatalf("wrapped operation must not be invoked while OPEN")
	}

	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 2; i++ {
		err := cb.Call(context.Background(), func(ctx context.Context) error { return nil })
		if err != nil {
			t.Fatalf("expected half-open trial to succeed, got %v", err)
		}
	}
	if cb.State() != "CLOSED" {
		t.Fatalf("expected CLOSED after success threshold, got %s", cb.State())
	}
}

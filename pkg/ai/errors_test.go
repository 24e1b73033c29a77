package ai

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassification(t *testing.T) {
	unavailable := NewUnavailableError(errors.New("connection refused"), "stt down")
	timeout := NewTimeoutError(errors.New("deadline"), "")
	fatal := NewFatalError(errors.New("bad api key"), "")

	if !IsRecoverable(unavailable) {
		t.Fatal("unavailable should be recoverable")
	}
	if !IsRecoverable(timeout) {
		t.Fatal("timeout should be recoverable")
	}
	if IsRecoverable(fatal) {
		t.Fatal("fatal should not be recoverable")
	}
	if !IsFatal(fatal) {
		t.Fatal("fatal should be fatal")
	}
	if !errors.Is(unavailable, ErrModelUnavailable) {
		t.Fatal("unavailable should unwrap to ErrModelUnavailable")
	}
	if got := unavailable.Error(); got != "stt down" {
		t.Fatalf("Error() = %q, want message override", got)
	}
	if got := timeout.Error(); got != "deadline" {
		t.Fatalf("Error() = %q, want underlying", got)
	}
}

func TestRetry_RecoversAfterOneFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, BackoffFactor: 2}, func() error {
		calls++
		if calls == 1 {
			return NewUnavailableError(errors.New("flaky"), "")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry = %v, want nil", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetry_StopsAtMaxRetries(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, BackoffFactor: 2}, func() error {
		calls++
		return NewTimeoutError(errors.New("slow"), "")
	})
	if !errors.Is(err, ErrModelTimeout) {
		t.Fatalf("Retry = %v, want timeout", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (initial + one retry)", calls)
	}
}

func TestRetry_FatalIsImmediate(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig, func() error {
		calls++
		return NewFatalError(errors.New("no"), "")
	})
	if !IsFatal(err) {
		t.Fatalf("Retry = %v, want fatal", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryConfig{MaxRetries: 3, InitialDelay: time.Hour}, func() error {
		return NewUnavailableError(errors.New("flaky"), "")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry = %v, want context.Canceled", err)
	}
}

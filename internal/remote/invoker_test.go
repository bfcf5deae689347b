package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func TestExecuteOnceSuccess(t *testing.T) {
	invoker := NewInvoker(0, 1, RetryPolicy{MaxAttempts: 3}, time.Second, testLogger())

	calls := 0
	err := invoker.ExecuteOnce(context.Background(), "ping", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestExecuteOnceRetriesThenSucceeds(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 1}
	invoker := NewInvoker(0, 1, policy, time.Second, testLogger())

	calls := 0
	err := invoker.ExecuteOnce(context.Background(), "ping", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteOnceExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 1}
	invoker := NewInvoker(0, 1, policy, time.Second, testLogger())

	calls := 0
	cause := errors.New("still broken")
	err := invoker.ExecuteOnce(context.Background(), "ping", func(ctx context.Context) error {
		calls++
		return cause
	})
	if err == nil {
		t.Fatalf("expected failure after exhausting attempts")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestExecuteOnceAbsorbsPanic(t *testing.T) {
	invoker := NewInvoker(0, 1, RetryPolicy{MaxAttempts: 1}, time.Second, testLogger())

	err := invoker.ExecuteOnce(context.Background(), "ping", func(ctx context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatalf("expected panic to surface as error")
	}
}

func TestExecuteOnceStopsOnCancelledContext(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, BackoffFactor: 1}
	invoker := NewInvoker(0, 1, policy, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := invoker.ExecuteOnce(ctx, "ping", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected no retries after cancellation, got %d calls", calls)
	}
}

package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnectBackoff(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, 30)
		if got != want {
			t.Errorf("backoffDelay(%d, 30) = %v, want %v", i, got, want)
		}
	}
}

func TestBackoffDelayOverflowProtection(t *testing.T) {
	// Attempt=100 would overflow 1<<100 without the shift cap
	got := backoffDelay(100, 30)
	if got != 30*time.Second {
		t.Errorf("backoffDelay(100, 30) = %v, want 30s", got)
	}
	if got := backoffDelay(5, 0); got != 0 {
		t.Errorf("backoffDelay(5, 0) = %v, want 0", got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrNotFound, true},
		{ErrConnectFailed, true},
		{ErrDiscoverFailed, true},
		{ErrSubscribeFailed, true},
		{ErrLinkLost, true},
		{ErrInitFailed, false},
		{ErrInterrupted, false},
		{ErrWriteFailed, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSuperviseRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Supervise(context.Background(), RetryOptions{Attempts: 5}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ErrLinkLost
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Supervise() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}
}

func TestSuperviseStopsOnFinalError(t *testing.T) {
	calls := 0
	err := Supervise(context.Background(), RetryOptions{Attempts: 5}, func(ctx context.Context) error {
		calls++
		return ErrInitFailed
	})
	if !errors.Is(err, ErrInitFailed) {
		t.Errorf("Supervise() error = %v, want ErrInitFailed", err)
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
}

func TestSuperviseBudgetExhausted(t *testing.T) {
	calls := 0
	err := Supervise(context.Background(), RetryOptions{Attempts: 2}, func(ctx context.Context) error {
		calls++
		return ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Supervise() error = %v, want ErrNotFound", err)
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}
}

func TestSuperviseInterruptedDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Supervise(ctx, RetryOptions{Attempts: 5, ReconnectMax: 30}, func(ctx context.Context) error {
		calls++
		cancel()
		return ErrLinkLost
	})
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("Supervise() error = %v, want ErrInterrupted", err)
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
}

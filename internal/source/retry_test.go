package source

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2.0,
		Jitter:          false,
	}
}

func TestRetryer_EventualSuccess(t *testing.T) {
	retryer := NewRetryer(testPolicy(), "", nil)
	callCount := 0

	err := retryer.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := NewRetryer(testPolicy(), "db.events", nil)
	callCount := 0

	err := retryer.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return errors.New("persistent error")
	})

	var retryErr *RetryError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryError, got %v", err)
	}
	if retryErr.Attempts != 3 || callCount != 3 {
		t.Errorf("attempts = %d, calls = %d; want 3", retryErr.Attempts, callCount)
	}
}

func TestRetryer_NonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"marked", NewNonRetryableError(errors.New("bad request"))},
		{"snapshot not found", ErrSnapshotNotFound},
		{"restore corruption", &RestoreCorruptionError{Count: 2}},
		{"cancelled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryer := NewRetryer(testPolicy(), "", nil)
			callCount := 0

			err := retryer.Execute(context.Background(), func(ctx context.Context) error {
				callCount++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want %v", err, tt.err)
			}
			if callCount != 1 {
				t.Errorf("expected 1 call, got %d", callCount)
			}
		})
	}
}

func TestRetryer_ContextCancelledDuringWait(t *testing.T) {
	policy := testPolicy()
	policy.InitialInterval = time.Hour
	policy.MaxInterval = time.Hour
	retryer := NewRetryer(policy, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := retryer.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return errors.New("temporary error")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRetryer_CalculateBackoff(t *testing.T) {
	retryer := NewRetryer(testPolicy(), "", nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{5, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := retryer.calculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

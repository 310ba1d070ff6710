package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/janovincze/snapstream/internal/metrics"
)

// RetryPolicy defines how a failed poll cycle is retried.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the first try).
	MaxAttempts int

	// InitialInterval is the initial backoff interval.
	InitialInterval time.Duration

	// MaxInterval is the maximum backoff interval.
	MaxInterval time.Duration

	// Multiplier is the backoff multiplier.
	Multiplier float64

	// Jitter adds up to ±25% randomness to each wait.
	Jitter bool
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}
}

// RetryError wraps an error with retry information.
type RetryError struct {
	Err      error
	Attempts int
	LastWait time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Retryable marks an error as retryable.
type Retryable interface {
	IsRetryable() bool
}

// RetryableError wraps an error and marks whether it may be retried.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

// NewRetryableError wraps an error as retryable.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError wraps an error as non-retryable.
func NewNonRetryableError(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// Retryer executes operations with retry logic.
type Retryer struct {
	policy     RetryPolicy
	logger     *slog.Logger
	sourceName string
}

// NewRetryer creates a new Retryer with the given policy.
func NewRetryer(policy RetryPolicy, sourceName string, logger *slog.Logger) *Retryer {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retryer{
		policy:     policy,
		logger:     logger.With("component", "retryer"),
		sourceName: sourceName,
	}
}

// Execute runs the operation until it succeeds, fails with a non-retryable
// error, or runs out of attempts.
func (r *Retryer) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error
	var lastWait time.Duration

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debug("operation succeeded after retry",
					"attempt", attempt,
					"total_wait", lastWait,
				)
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			r.logger.Debug("non-retryable error", "attempt", attempt, "error", err)
			return &RetryError{Err: err, Attempts: attempt, LastWait: lastWait}
		}

		if attempt >= r.policy.MaxAttempts {
			break
		}

		if r.sourceName != "" {
			metrics.SourceRetriesTotal.WithLabelValues(r.sourceName).Inc()
		}

		wait := r.calculateBackoff(attempt)
		lastWait += wait

		r.logger.Warn("retrying after error",
			"attempt", attempt,
			"next_attempt", attempt+1,
			"wait", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &RetryError{Err: ctx.Err(), Attempts: attempt, LastWait: lastWait}
		case <-timer.C:
		}
	}

	return &RetryError{Err: lastErr, Attempts: r.policy.MaxAttempts, LastWait: lastWait}
}

// isRetryable determines if an error should be retried.
func isRetryable(err error) bool {
	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrSnapshotNotFound) || errors.Is(err, ErrRestoreCorruption) {
		return false
	}
	return true
}

// calculateBackoff calculates the backoff duration for the given attempt.
func (r *Retryer) calculateBackoff(attempt int) time.Duration {
	backoff := float64(r.policy.InitialInterval) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if backoff > float64(r.policy.MaxInterval) {
		backoff = float64(r.policy.MaxInterval)
	}

	duration := time.Duration(backoff)

	if r.policy.Jitter && duration >= 4 {
		jitter := duration / 4
		duration = duration - jitter + time.Duration(rand.Int63n(int64(jitter*2)))
	}
	return duration
}

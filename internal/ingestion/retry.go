package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

const (
	// DefaultMaxAttempts bounds how often a run is attempted end to end.
	DefaultMaxAttempts = 3

	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 30 * time.Second
)

// RetryPolicy decides whether and when a failed run attempt is retried.
//
// Retries happen at run granularity, never per record: a retried run resumes
// from the last good checkpoint and raw-store idempotency absorbs duplicate
// writes, so partial success is never claimed. The policy is a plain value
// decoupled from the pipeline so tests can exercise delay and classification
// logic without running a pipeline.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff: base * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the production policy: 3 attempts, 1s base
// delay, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

// Delay returns the backoff before the given zero-based retry attempt.
// Formula: BaseDelay * 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

// Retryable classifies an error by the taxonomy: transport failures and
// transient storage unavailability are retryable; configuration errors,
// per-record failures and everything else are not.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}

	if source.IsTransportError(err) {
		return true
	}

	return errors.Is(err, ErrStorageUnavailable)
}

// Execute runs fn under the policy.
//
// fn receives the zero-based attempt number. Non-retryable errors return
// immediately; retryable ones wait for the backoff delay (or context
// cancellation, whichever comes first) before the next attempt. The error of
// the final attempt is returned once attempts are exhausted.
func (p RetryPolicy) Execute(ctx context.Context, logger *slog.Logger, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if !p.Retryable(lastErr) || attempt == p.MaxAttempts-1 {
			return lastErr
		}

		delay := p.Delay(attempt)

		logger.Warn("attempt failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

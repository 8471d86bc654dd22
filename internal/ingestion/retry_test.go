package ingestion_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(maxAttempts int) ingestion.RetryPolicy {
	return ingestion.RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := ingestion.DefaultRetryPolicy()

	assert.Equal(t, 1*time.Second, policy.Delay(0))
	assert.Equal(t, 2*time.Second, policy.Delay(1))
	assert.Equal(t, 4*time.Second, policy.Delay(2))
	assert.Equal(t, 30*time.Second, policy.Delay(10), "delay must cap at MaxDelay")
	assert.Equal(t, 1*time.Second, policy.Delay(-1), "negative attempt clamps to zero")
}

func TestRetryPolicyRetryable(t *testing.T) {
	policy := ingestion.DefaultRetryPolicy()

	transportErr := &source.TransportError{
		Source: "api",
		URL:    "https://example.com",
		Err:    errors.New("connection refused"),
	}

	assert.True(t, policy.Retryable(transportErr))
	assert.True(t, policy.Retryable(fmt.Errorf("put: %w", ingestion.ErrStorageUnavailable)))
	assert.False(t, policy.Retryable(nil))
	assert.False(t, policy.Retryable(errors.New("schema mismatch")))
	assert.False(t, policy.Retryable(source.ErrUnknownKind))
}

func TestRetryPolicyExecuteSucceedsAfterRetries(t *testing.T) {
	attempts := 0

	err := fastPolicy(3).Execute(context.Background(), discardLogger(), func(attempt int) error {
		attempts++
		if attempt < 2 {
			return fmt.Errorf("transient: %w", ingestion.ErrStorageUnavailable)
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicyExecuteStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	cause := errors.New("bad configuration")

	err := fastPolicy(3).Execute(context.Background(), discardLogger(), func(int) error {
		attempts++

		return cause
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, attempts, "non-retryable error must not retry")
}

func TestRetryPolicyExecuteExhaustsAttempts(t *testing.T) {
	attempts := 0

	err := fastPolicy(3).Execute(context.Background(), discardLogger(), func(int) error {
		attempts++

		return fmt.Errorf("still down: %w", ingestion.ErrStorageUnavailable)
	})

	assert.ErrorIs(t, err, ingestion.ErrStorageUnavailable)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicyExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := ingestion.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
	}

	done := make(chan error, 1)

	go func() {
		done <- policy.Execute(ctx, discardLogger(), func(int) error {
			return fmt.Errorf("down: %w", ingestion.ErrStorageUnavailable)
		})
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after context cancellation")
	}
}

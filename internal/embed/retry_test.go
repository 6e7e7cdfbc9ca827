package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetryStopsImmediatelyOnNonRateLimitError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesRateLimitUpToMaxAttempts(t *testing.T) {
	calls := 0
	start := time.Now()
	err := withRetry(context.Background(), func() error {
		calls++
		return &RateLimitError{StatusCode: 429, Err: errors.New("rate limited")}
	})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Second+10*time.Second)
}

func TestWithRetrySucceedsAfterTransientRateLimit(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return &RateLimitError{StatusCode: 403, Err: errors.New("forbidden")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := withRetry(ctx, func() error {
		calls++
		return &RateLimitError{StatusCode: 429, Err: errors.New("rate limited")}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

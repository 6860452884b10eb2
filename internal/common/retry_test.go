package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &RetryableError{Err: ErrBackendTimeout, Retryable: true}
		}
		return nil
	}, RetryOptions{MaxAttempts: 5, InitialDelay: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsAtCeiling(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: ErrBackendTimeout, Retryable: true}
	}, RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 3, calls)
}

func TestWithRetryNonRetryableShortCircuits(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: boom, Retryable: false}
	}, RetryOptions{MaxAttempts: 5, InitialDelay: time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetryDelaysNeverDecrease(t *testing.T) {
	var stamps []time.Time
	err := WithRetry(context.Background(), func() error {
		stamps = append(stamps, time.Now())
		return &RetryableError{Err: ErrBackendTimeout, Retryable: true}
	}, RetryOptions{
		MaxAttempts:  4,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       0, // deterministic gaps for the assertion
	})
	require.ErrorIs(t, err, ErrMaxRetries)
	require.Len(t, stamps, 4)

	var gaps []time.Duration
	for i := 1; i < len(stamps); i++ {
		gaps = append(gaps, stamps[i].Sub(stamps[i-1]))
	}
	for i := 1; i < len(gaps); i++ {
		assert.GreaterOrEqual(t, gaps[i], gaps[i-1],
			"backoff gap %d shrank: %v < %v", i, gaps[i], gaps[i-1])
	}
}

func TestWithRetryRateLimitJumpsToMaxDelay(t *testing.T) {
	calls := 0
	start := time.Now()
	err := WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: ErrBackendRateLimited, Retryable: true}
	}, RetryOptions{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     150 * time.Millisecond,
		Jitter:       0,
	})

	require.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := WithRetry(ctx, func() error {
		calls++
		return &RetryableError{Err: ErrBackendTimeout, Retryable: true}
	}, RetryOptions{MaxAttempts: 10, InitialDelay: time.Hour})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrBackendTimeout))
	assert.True(t, IsRetryable(ErrBackendRateLimited))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.True(t, IsRetryable(&RetryableError{Err: ErrNotFound, Retryable: true}))
	assert.False(t, IsRetryable(&RetryableError{Err: ErrBackendMalformed, Retryable: false}))
}

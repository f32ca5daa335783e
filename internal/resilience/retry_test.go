package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsMaxAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2.0}
	calls := 0
	wantErr := errors.New("transient")
	err := Retry(context.Background(), cfg, nil, func() error {
		calls++
		return wantErr
	})
	require.Error(t, err)
	assert.Equal(t, wantErr, err)
	assert.Equal(t, 3, calls)
}

func TestRetryRespectsShouldRetryPredicate(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}
	calls := 0
	permanent := errors.New("forbidden")
	err := Retry(context.Background(), cfg, func(error) bool { return false }, func() error {
		calls++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable error must short-circuit after the first attempt")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 1.0}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, cfg, nil, func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Less(t, calls, 5)
}

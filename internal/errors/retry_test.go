package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransientMatchesProviderFragments(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"503 service error", true},
		{"model is Overloaded right now", true},
		{"temporarily unavailable", true},
		{"rate limit exceeded", true},
		{"quota exhausted for project", true},
		{"request timed out", true},
		{"upstream timeout", true},
		{"invalid api key", false},
		{"model not found", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsTransient(errors.New(tc.msg)), tc.msg)
	}
}

func TestIsTransientRespectsTypedWrappers(t *testing.T) {
	assert.True(t, IsTransient(NewTransientError(errors.New("boom"), "x")))
	assert.False(t, IsTransient(NewPermanentError(errors.New("503"), "x")))
	assert.False(t, IsTransient(context.Canceled))
}

func TestRetryWithResultSucceedsAfterTransientFailures(t *testing.T) {
	config := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	attempts := 0
	var notices []RetryNotice

	got, err := RetryWithResult(context.Background(), config, nil, func(n RetryNotice) {
		notices = append(notices, n)
	}, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("503 overloaded")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
	require.Len(t, notices, 2)
	assert.Equal(t, 1, notices[0].Attempt)
	assert.Equal(t, 2, notices[1].Attempt)
}

func TestRetryWithResultStopsOnPermanentError(t *testing.T) {
	config := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	attempts := 0
	_, err := RetryWithResult(context.Background(), config, nil, nil, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("invalid request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResultExhaustsAttempts(t *testing.T) {
	config := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	attempts := 0
	_, err := RetryWithResult(context.Background(), config, nil, nil, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("temporarily unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestBackoffGrowsExponentially(t *testing.T) {
	config := RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute}
	assert.Equal(t, time.Second, Backoff(0, config))
	assert.Equal(t, 2*time.Second, Backoff(1, config))
	assert.Equal(t, 4*time.Second, Backoff(2, config))
}

func TestBackoffHonorsCeiling(t *testing.T) {
	config := RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, Backoff(10, config))
}

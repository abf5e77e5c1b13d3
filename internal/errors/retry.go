package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"loom/internal/shared/logging"
)

// RetryConfig configures exponential backoff behavior.
type RetryConfig struct {
	MaxAttempts  int           // total attempts including the first
	BaseDelay    time.Duration // delay before the second attempt
	MaxDelay     time.Duration // backoff ceiling
	JitterFactor float64       // 0.25 = ±25% randomization
}

// DefaultRetryConfig matches the provider retry schedule: up to 5 attempts,
// base·2^i seconds between them, with small jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryNotice describes one backoff pause for UI consumption.
type RetryNotice struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	Err         error
}

// NoticeFunc receives a RetryNotice before each backoff pause.
type NoticeFunc func(RetryNotice)

// RetryWithResult executes fn with exponential backoff, retrying only
// transient failures. notify (optional) fires before each pause so the caller
// can render a countdown.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, logger logging.Logger, notify NoticeFunc, fn func(ctx context.Context) (T, error)) (T, error) {
	logger = logging.OrNop(logger)
	var zero T
	var lastErr error

	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded on attempt %d/%d", attempt+1, config.MaxAttempts)
			}
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			logger.Debug("error is not transient, giving up: %v", err)
			return zero, err
		}
		if attempt == config.MaxAttempts-1 {
			logger.Warn("max attempts (%d) exhausted: %v", config.MaxAttempts, err)
			break
		}

		delay := Backoff(attempt, config)
		if hint := RetryAfterHint(err); hint > 0 {
			delay = time.Duration(hint) * time.Second
		}
		logger.Debug("attempt %d/%d failed (%v), backing off %v", attempt+1, config.MaxAttempts, err, delay)
		if notify != nil {
			notify(RetryNotice{Attempt: attempt + 1, MaxAttempts: config.MaxAttempts, Delay: delay, Err: err})
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Backoff computes the delay after the given zero-based attempt index.
func Backoff(attempt int, config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay += time.Duration((rand.Float64()*2 - 1) * jitter)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return delay
}

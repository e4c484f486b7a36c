package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`

	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool `mapstructure:"-"`
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:         3,
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done
func Retry(ctx context.Context, config *RetryConfig, fn func(context.Context) error) error {
	_, err := RetryWithResult(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult executes a function with retry logic and returns a result
func RetryWithResult[T any](ctx context.Context, config *RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var (
		result  T
		lastErr error
	)
	interval := config.InitialInterval

	for attempt := 1; attempt <= max(config.MaxAttempts, 1); attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result, lastErr = fn(ctx)
		if lastErr == nil {
			return result, nil
		}
		if config.Retryable != nil && !config.Retryable(lastErr) {
			return result, lastErr
		}

		if attempt < config.MaxAttempts {
			timer := time.NewTimer(jitter(interval, config.RandomizationFactor))
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}

			interval = time.Duration(float64(interval) * config.Multiplier)
			if config.MaxInterval > 0 && interval > config.MaxInterval {
				interval = config.MaxInterval
			}
		}
	}

	return result, lastErr
}

func jitter(base time.Duration, factor float64) time.Duration {
	if factor <= 0 || base <= 0 {
		return base
	}

	delta := factor * float64(base)
	minInterval := float64(base) - delta
	maxInterval := float64(base) + delta
	return time.Duration(minInterval + (rand.Float64() * (maxInterval - minInterval)))
}

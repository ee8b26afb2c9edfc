package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Config controls Do. An empty RetryableErrors retries every error. OnRetry, when
// set, is called before each backoff sleep with the failed attempt number.
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterFraction  float64
	RetryableErrors []error
	OnRetry         func(attempt int, err error)
	Logger          *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Config) retryable(err error) bool {
	if len(c.RetryableErrors) == 0 {
		return true
	}
	for _, target := range c.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Do runs operation until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx is done. The last operation error is returned.
func Do(ctx context.Context, cfg Config, operation func() error) error {
	cfg = cfg.withDefaults()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		switch {
		case err == nil:
			if attempt > 1 {
				cfg.Logger.Info("Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		case !cfg.retryable(err):
			cfg.Logger.Debug("Error not retryable", zap.Error(err), zap.Int("attempt", attempt))
			return err
		case attempt >= cfg.MaxAttempts:
			return err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		delay := jitter(Backoff(cfg, attempt), cfg.JitterFraction)
		cfg.Logger.Warn("Operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func DoWithResult[T any](ctx context.Context, cfg Config, operation func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = operation()
		return err
	})
	return result, err
}

// Backoff returns the un-jittered delay that follows the given failed attempt:
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func Backoff(cfg Config, attempt int) time.Duration {
	attempt = max(attempt, 1)
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	return time.Duration(math.Min(float64(cfg.MaxDelay), d))
}

// jitter spreads d uniformly over [d*(1-f), d*(1+f)].
func jitter(d time.Duration, f float64) time.Duration {
	if f <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + f*(2*rand.Float64()-1)))
}

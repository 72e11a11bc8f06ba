package resilience

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// MinDelay is the delay before the second attempt. Default: 500ms.
	MinDelay time.Duration

	// MaxDelay caps any single delay. Default: 30s.
	MaxDelay time.Duration

	// BackoffFactor scales the delay after each attempt. Default: 2.0.
	BackoffFactor float64
}

// DefaultRetryConfig returns a sensible retry configuration for API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		MinDelay:      500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MinDelay <= 0 {
		c.MinDelay = d.MinDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	return c
}

// Backoff returns the sleep after the given 1-based failed attempt:
// min(MinDelay * BackoffFactor^(attempt-1), MaxDelay).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.MinDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if delay > float64(c.MaxDelay) || math.IsInf(delay, 1) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// WithRetry runs op for the named provider under its retry policy and
// circuit breaker. The breaker is consulted before every attempt; an open
// circuit fails fast with ErrCircuitOpen without invoking op.
func WithRetry[T any](ctx context.Context, reg *ProviderRegistry, provider string, op func(ctx context.Context) (T, error)) (T, error) {
	return retry(ctx, reg.get(provider), op)
}

func retry[T any](ctx context.Context, p *providerState, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	cfg := p.policy.Retry
	cb := p.breaker

	var (
		lastErr    error
		holdsTrial bool
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		trial, err := cb.admit(holdsTrial)
		if err != nil {
			if lastErr != nil {
				return zero, eris.Wrapf(err, "resilience: %s: attempt %d (last error: %v)", p.name, attempt, lastErr)
			}
			return zero, eris.Wrapf(err, "resilience: %s", p.name)
		}
		holdsTrial = trial

		val, err := op(ctx)
		if err == nil {
			cb.RecordSuccess()
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			if holdsTrial {
				cb.Release()
			}
			return zero, eris.Wrapf(err, "resilience: %s: attempt %d/%d (%s)", p.name, attempt, cfg.MaxAttempts, ClassifyError(err))
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Backoff(attempt)
		if hint := retryAfterHint(err); hint > delay {
			delay = min(hint, cfg.MaxDelay)
		}

		zap.L().Warn("retrying provider call",
			zap.String("provider", p.name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		if err := p.sleep(ctx, delay); err != nil {
			if holdsTrial {
				cb.Release()
			}
			return zero, eris.Wrapf(lastErr, "resilience: %s: canceled after attempt %d", p.name, attempt)
		}
	}

	cb.RecordFailure()
	return zero, eris.Wrapf(lastErr, "resilience: %s: %d attempts exhausted", p.name, cfg.MaxAttempts)
}

// WithRateLimit admits op through the provider's queue. At most Concurrency
// operations run at once and at most MaxPerWindow start in any Window.
func WithRateLimit[T any](ctx context.Context, reg *ProviderRegistry, provider string, op func(ctx context.Context) (T, error)) (T, error) {
	return admitted(ctx, reg.get(provider), op)
}

func admitted[T any](ctx context.Context, p *providerState, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	release, err := p.queue.Acquire(ctx)
	if err != nil {
		return zero, eris.Wrapf(err, "resilience: %s", p.name)
	}
	defer release()
	return op(ctx)
}

// WithRetryAndRateLimit admits the call once through the provider queue and
// runs every retry attempt inside that admitted slot.
func WithRetryAndRateLimit[T any](ctx context.Context, reg *ProviderRegistry, provider string, op func(ctx context.Context) (T, error)) (T, error) {
	p := reg.get(provider)
	return admitted(ctx, p, func(ctx context.Context) (T, error) {
		return retry(ctx, p, op)
	})
}

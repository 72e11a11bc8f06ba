package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. Zero values keep
// the defaults.
func FromRetryConfig(maxAttempts, minDelayMs, maxDelayMs int, backoffFactor float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if minDelayMs > 0 {
		cfg.MinDelay = time.Duration(minDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	if backoffFactor >= 1 {
		cfg.BackoffFactor = backoffFactor
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(maxFailures, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if maxFailures > 0 {
		cfg.MaxFailures = maxFailures
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// FromRateLimitConfig converts config values to a RateLimitConfig.
func FromRateLimitConfig(concurrency, windowMs, maxPerWindow int) RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if windowMs > 0 {
		cfg.Window = time.Duration(windowMs) * time.Millisecond
	}
	if maxPerWindow > 0 {
		cfg.MaxPerWindow = maxPerWindow
	}
	return cfg
}

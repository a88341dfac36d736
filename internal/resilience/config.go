package resilience

import (
	"time"
)

// PolicyFrom overlays non-zero settings onto ConflictPolicy.
func PolicyFrom(attempts int, base, maxDelay time.Duration, jitter float64) RetryPolicy {
	p := ConflictPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if base > 0 {
		p.Base = base
	}
	if maxDelay > 0 {
		p.Cap = maxDelay
	}
	if jitter >= 0 {
		p.Jitter = jitter
	}
	return p
}

// BreakerFrom overlays non-zero settings onto DefaultBreakerConfig.
func BreakerFrom(threshold int, cooldown time.Duration) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	if cooldown > 0 {
		cfg.Cooldown = cooldown
	}
	return cfg
}

package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls how a failed unit of work is re-attempted.
type RetryPolicy struct {
	// Attempts is the total number of tries, first one included.
	Attempts int

	// Base is the delay before the first retry. Later delays grow by Factor
	// up to Cap.
	Base   time.Duration
	Cap    time.Duration
	Factor float64

	// Jitter spreads each delay by up to ±Jitter of its value so racing
	// writers do not retry in lockstep.
	Jitter float64

	// Retryable decides which errors are worth another attempt. Defaults to
	// IsTransient.
	Retryable func(err error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// ConflictPolicy returns the policy used around identity and deal
// transactions: many short attempts, since a conflicting writer usually
// finishes within a few milliseconds.
func ConflictPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 5,
		Base:     5 * time.Millisecond,
		Cap:      100 * time.Millisecond,
		Factor:   2,
		Jitter:   0.5,
	}
}

// ConnectPolicy returns the policy used when dialing the store at startup.
func ConnectPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 5,
		Base:     250 * time.Millisecond,
		Cap:      5 * time.Second,
		Factor:   2,
		Jitter:   0.25,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx ends. The last error is returned.
func Do(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that produce a value.
func DoVal[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalize()

	var zero T
	var err error
	for attempt := 1; ; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt >= p.Attempts {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
}

func (p RetryPolicy) normalize() RetryPolicy {
	def := ConflictPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// delay returns the sleep before retry number attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.Base) * math.Pow(p.Factor, float64(attempt-1))
	d = math.Min(d, float64(p.Cap))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// LogRetries returns an OnRetry hook that reports each retry at warn level.
func LogRetries(op string, fields ...zap.Field) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying",
			append([]zap.Field{
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			}, fields...)...,
		)
	}
}

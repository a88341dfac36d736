// Package resilience wraps storage calls with retries and a circuit breaker.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the position of a Breaker.
type BreakerState int

const (
	// StateClosed lets every call through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits one probe at a time.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned without calling through while the breaker is open.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// Threshold is the run of consecutive counted failures that opens the
	// breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Counts decides which errors count as failures. Defaults to
	// IsTransient, so request-level errors never open the breaker.
	Counts func(err error) bool
	// Name labels state-change log lines.
	Name string
}

// DefaultBreakerConfig returns a breaker that opens after 5 straight storage
// failures and probes again after 10s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 10 * time.Second, Name: "store"}
}

// Breaker fails fast while a dependency is known to be down.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Counts == nil {
		cfg.Counts = IsTransient
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Guard runs fn unless the breaker is open. A nil *Breaker always calls fn.
func (b *Breaker) Guard(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := GuardVal(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// GuardVal is Guard for functions that produce a value.
func GuardVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil || !b.cfg.Counts(err) {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.setState(StateOpen)
		}
	}
}

func (b *Breaker) setState(to BreakerState) {
	zap.L().Warn("resilience: breaker state change",
		zap.String("breaker", b.cfg.Name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}

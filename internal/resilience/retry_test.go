package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  4,
		Base:      time.Millisecond,
		Cap:       2 * time.Millisecond,
		Factor:    2,
		Retryable: func(err error) bool { return errors.Is(err, errConflict) },
	}
}

func TestDoVal_SucceedsAfterConflicts(t *testing.T) {
	var calls int
	var retried []int
	p := fastPolicy()
	p.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	v, err := DoVal(context.Background(), p, func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errConflict
		}
		return "contact-1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "contact-1", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoVal_StopsOnNonRetryable(t *testing.T) {
	var calls int
	boom := errors.New("invalid identity")

	_, err := DoVal(context.Background(), fastPolicy(), func(_ context.Context) (int, error) {
		calls++
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastPolicy(), func(_ context.Context) (int, error) {
		calls++
		return 0, errConflict
	})

	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 4, calls)
}

func TestDoVal_ContextCancelledDuringBackoff(t *testing.T) {
	p := fastPolicy()
	p.Base = time.Second
	p.Cap = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	var calls int
	err := Do(ctx, p, func(_ context.Context) error {
		calls++
		return errConflict
	})

	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_DefaultsToTransient(t *testing.T) {
	var calls int
	err := Do(context.Background(), RetryPolicy{Attempts: 3, Base: time.Millisecond}, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return Transient(errors.New("database is busy"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Base: 10 * time.Millisecond, Cap: 35 * time.Millisecond, Factor: 2}.normalize()
	p.Jitter = 0

	assert.Equal(t, 10*time.Millisecond, p.delay(1))
	assert.Equal(t, 20*time.Millisecond, p.delay(2))
	assert.Equal(t, 35*time.Millisecond, p.delay(3))
	assert.Equal(t, 35*time.Millisecond, p.delay(9))
}

func TestRetryPolicy_DelayJitterBounds(t *testing.T) {
	p := ConflictPolicy().normalize()
	for i := 0; i < 100; i++ {
		d := p.delay(1)
		assert.GreaterOrEqual(t, d, time.Duration(float64(p.Base)*(1-p.Jitter)))
		assert.LessOrEqual(t, d, time.Duration(float64(p.Base)*(1+p.Jitter)))
	}
}

func TestPolicyFrom(t *testing.T) {
	p := PolicyFrom(8, 2*time.Millisecond, 0, -1)
	assert.Equal(t, 8, p.Attempts)
	assert.Equal(t, 2*time.Millisecond, p.Base)
	assert.Equal(t, ConflictPolicy().Cap, p.Cap)
	assert.Equal(t, ConflictPolicy().Jitter, p.Jitter)
}

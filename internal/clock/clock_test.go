package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonic_NeverGoesBackwards(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	readings := []time.Time{base, base, base.Add(-time.Hour), base.Add(time.Second)}
	i := 0
	m := &Monotonic{now: func() time.Time {
		r := readings[i]
		i++
		return r
	}}

	first := m.Now()
	second := m.Now()
	third := m.Now()
	fourth := m.Now()

	assert.Equal(t, base, first)
	assert.Equal(t, base.Add(time.Microsecond), second)
	assert.Equal(t, base.Add(2*time.Microsecond), third)
	assert.Equal(t, base.Add(time.Second), fourth)
}

func TestMonotonic_ConcurrentReadingsAreUnique(t *testing.T) {
	m := NewMonotonic()
	var mu sync.Mutex
	seen := make(map[time.Time]bool)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := m.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
}

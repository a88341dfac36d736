// Package clock provides a wall clock whose readings never go backwards.
package clock

import (
	"sync"
	"time"
)

// Monotonic returns strictly increasing UTC timestamps at microsecond
// resolution, the precision Postgres keeps for timestamptz.
type Monotonic struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonic creates a clock reading from time.Now.
func NewMonotonic() *Monotonic {
	return &Monotonic{now: time.Now}
}

// Now returns the current time, or one microsecond past the previous reading
// if the wall clock has not advanced (or stepped back).
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now().UTC().Truncate(time.Microsecond)
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

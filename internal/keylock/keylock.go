// Package keylock provides an in-process table of mutexes keyed by string.
//
// Locks only reduce redundant conflicting writes between goroutines of one
// service instance. Cross-process correctness always comes from the store's
// unique constraints.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Table hands out per-key exclusive sections. Distinct keys never block each
// other. A nil *Table is valid and never blocks.
type Table struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates an empty lock table.
func New() *Table {
	return &Table{locks: make(map[string]*entry)}
}

// Lock blocks until the section for key is free or ctx is done. The returned
// unlock func must be called exactly once.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	if t == nil {
		return func() {}, nil
	}

	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			t.release(key, e)
		})
	}, nil
}

func (t *Table) release(key string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.locks, key)
	}
}

// size returns the number of keys currently held or awaited.
func (t *Table) size() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

// Package fanout holds listener registrations that are safe to mutate from
// inside a callback.
package fanout

import (
	"sync"
	"sync/atomic"
)

type entry[T any] struct {
	fn      func(T)
	removed atomic.Bool
}

// Set is a registration set notified by copy: Notify snapshots the members
// first, so a callback may add or remove listeners without disturbing the
// current round. A listener removed mid-round is not invoked afterwards.
type Set[T any] struct {
	mu      sync.Mutex
	entries []*entry[T]
}

// Add registers fn and returns a function removing it.
func (s *Set[T]) Add(fn func(T)) func() {
	e := &entry[T]{fn: fn}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	return func() { s.remove(e) }
}

func (s *Set[T]) remove(e *entry[T]) {
	if e.removed.Swap(true) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.entries {
		if cur == e {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

// Notify invokes every listener registered at call time with v.
func (s *Set[T]) Notify(v T) {
	s.mu.Lock()
	snapshot := make([]*entry[T], len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	for _, e := range snapshot {
		if e.removed.Load() {
			continue
		}
		e.fn(v)
	}
}

func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every registration.
func (s *Set[T]) Clear() {
	s.mu.Lock()
	old := s.entries
	s.entries = nil
	s.mu.Unlock()

	for _, e := range old {
		e.removed.Store(true)
	}
}

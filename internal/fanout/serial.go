package fanout

import "sync"

// Serial hands values to one listener, one call at a time and in the order
// they were pushed. A value pushed while fn runs, including by fn itself,
// waits until fn returns.
//
// Nothing reaches fn before Start. Values pushed earlier are dropped and
// replaced by a fresh read, so the first call always carries the value
// Start obtained.
type Serial[T any] struct {
	fn    func(T)
	equal func(a, b T) bool

	mu      sync.Mutex
	started bool
	stopped bool
	busy    bool
	missed  bool
	queue   []T

	// owned by whoever has busy set
	last      T
	delivered bool
}

// NewSerial wraps fn. When equal is non-nil a value equal to the one
// delivered just before it is skipped.
func NewSerial[T any](fn func(T), equal func(a, b T) bool) *Serial[T] {
	return &Serial[T]{fn: fn, equal: equal}
}

func (s *Serial[T]) Push(v T) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if !s.started {
		s.missed = true
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	if s.busy {
		s.mu.Unlock()
		return
	}
	s.busy = true
	s.mu.Unlock()

	s.drain()
}

// Start delivers current() and then everything pushed afterwards. If values
// were pushed in the meantime, current is read again until it is stable.
func (s *Serial[T]) Start(current func() T) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.busy = true
	s.missed = false
	s.mu.Unlock()

	for {
		s.deliver(current())

		s.mu.Lock()
		if !s.missed {
			s.started = true
			s.mu.Unlock()
			break
		}
		s.missed = false
		s.mu.Unlock()
	}
	s.drain()
}

// Stop discards queued values; fn is not called again.
func (s *Serial[T]) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
}

func (s *Serial[T]) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.stopped {
			s.queue = nil
			s.busy = false
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(v)
	}
}

func (s *Serial[T]) deliver(v T) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	if s.equal != nil && s.delivered && s.equal(s.last, v) {
		return
	}
	s.last, s.delivered = v, true
	s.fn(v)
}

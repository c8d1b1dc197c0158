package session

import (
	"context"
	"fmt"
	"sync"
)

type result[T any] struct {
	value T
	err   error
}

// Slot correlates one blocking caller with the status frame that answers
// it. At most one caller may wait on a slot at a time.
type Slot[T any] struct {
	name    string
	mu      sync.Mutex
	pending *Pending[T]
}

// NewSlot creates an empty slot; name appears in errors.
func NewSlot[T any](name string) *Slot[T] {
	return &Slot[T]{name: name}
}

// Pending is an occupied slot, returned by Acquire.
type Pending[T any] struct {
	slot  *Slot[T]
	match func(T) bool
	ch    chan result[T]
}

// Acquire occupies the slot. Only values for which match returns true will
// complete the wait; a nil match accepts anything. Acquire must happen
// before the request is written so the answer cannot be missed.
func (s *Slot[T]) Acquire(match func(T) bool) (*Pending[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPending, s.name)
	}
	p := &Pending[T]{slot: s, match: match, ch: make(chan result[T], 1)}
	s.pending = p
	return p, nil
}

// Deliver completes the pending wait with v if there is one and it accepts
// v. It never blocks and reports whether v was consumed.
func (s *Slot[T]) Deliver(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pending
	if p == nil || (p.match != nil && !p.match(v)) {
		return false
	}
	s.pending = nil
	p.ch <- result[T]{value: v}
	return true
}

// Fail completes the pending wait, if any, with err.
func (s *Slot[T]) Fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pending
	if p == nil {
		return false
	}
	s.pending = nil
	p.ch <- result[T]{err: err}
	return true
}

// Busy reports whether a caller is waiting.
func (s *Slot[T]) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Wait blocks until the slot is completed or ctx ends. Either way the slot is
// free again when Wait returns. Expiry is reported as ErrTimeout wrapping the
// context error.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case r := <-p.ch:
		return r.value, r.err
	case <-ctx.Done():
	}

	p.Cancel()
	select {
	case r := <-p.ch:
		return r.value, r.err
	default:
	}
	var zero T
	return zero, fmt.Errorf("%w: %s: %w", ErrTimeout, p.slot.name, ctx.Err())
}

// Cancel frees the slot if it is still held by p. It is safe to call after
// Wait returned.
func (p *Pending[T]) Cancel() {
	s := p.slot
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mu.Unlock()
}

// Package resource manages the finite hardware resources of a SmartWave:
// pins, driver instances and stimulus slots.
package resource

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrExhausted is returned when every item of a pool is in use.
	ErrExhausted = errors.New("resource: exhausted")
	// ErrInvalidName is returned for pin names that do not exist.
	ErrInvalidName = errors.New("resource: invalid name")
	// ErrInUse is returned when a specific item is already taken.
	ErrInUse = errors.New("resource: already in use")
)

// Pool is a fixed-capacity set of interchangeable resources. Items leave
// the pool on Acquire and come back on Release; the pool never creates or
// destroys items.
type Pool[T comparable] struct {
	kind      string
	capacity  int
	mu        sync.Mutex
	available []T
}

// NewPool creates a pool holding items. kind names the resource in errors.
func NewPool[T comparable](kind string, items ...T) *Pool[T] {
	return &Pool[T]{
		kind:      kind,
		capacity:  len(items),
		available: append([]T(nil), items...),
	}
}

// Kind returns the resource name given to NewPool.
func (p *Pool[T]) Kind() string {
	return p.kind
}

// Acquire takes the head of the available list.
func (p *Pool[T]) Acquire() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	if len(p.available) == 0 {
		return zero, fmt.Errorf("%w: no %s available", ErrExhausted, p.kind)
	}
	item := p.available[0]
	p.available = p.available[1:]
	return item, nil
}

// AcquireFunc takes the first available item for which match returns true,
// wherever it sits in the list.
func (p *Pool[T]) AcquireFunc(match func(T) bool) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, item := range p.available {
		if match(item) {
			p.available = append(p.available[:i:i], p.available[i+1:]...)
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Release returns an item to the end of the available list. Releasing an
// item twice, or one that never came from this pool, is a caller bug and is
// ignored.
func (p *Pool[T]) Release(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.available) >= p.capacity {
		return
	}
	for _, have := range p.available {
		if have == item {
			return
		}
	}
	p.available = append(p.available, item)
}

// Available returns the number of items that can still be acquired.
func (p *Pool[T]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// Capacity returns the total number of items owned by the pool.
func (p *Pool[T]) Capacity() int {
	return p.capacity
}

// InUse returns the number of items currently acquired.
func (p *Pool[T]) InUse() int {
	return p.capacity - p.Available()
}

// Snapshot returns a copy of the available list in acquisition order.
func (p *Pool[T]) Snapshot() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]T(nil), p.available...)
}

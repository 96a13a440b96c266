// Package ring provides a fixed-capacity ring buffer.
package ring

import "sync"

// Ring is a fixed-size ring buffer; the oldest element is dropped when full.
type Ring[T any] struct {
	mu    sync.RWMutex
	slice []T
	head  int
	full  bool
}

// New creates a ring buffer with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 64
	}
	return &Ring[T]{slice: make([]T, capacity)}
}

func (r *Ring[T]) Append(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slice[r.head] = v
	r.head = (r.head + 1) % len(r.slice)
	if r.head == 0 {
		r.full = true
	}
}

// Snapshot returns the contents, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.len()
	out := make([]T, n)
	start := 0
	if r.full {
		start = r.head
	}
	for i := 0; i < n; i++ {
		out[i] = r.slice[(start+i)%len(r.slice)]
	}
	return out
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len()
}

func (r *Ring[T]) Cap() int {
	return len(r.slice)
}

// Last returns the most recently appended element, or false if empty.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.head == 0 && !r.full {
		var z T
		return z, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx = len(r.slice) - 1
	}
	return r.slice[idx], true
}

func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var z T
	for i := range r.slice {
		r.slice[i] = z
	}
	r.head = 0
	r.full = false
}

func (r *Ring[T]) len() int {
	if r.full {
		return len(r.slice)
	}
	return r.head
}

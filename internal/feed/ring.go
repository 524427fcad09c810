package feed

import "sync"

// Ring is a thread-safe bounded buffer that drops the oldest entry when
// full. Used where shedding stale input beats unbounded growth: deltas
// buffered during resynchronization, raw message backstops.
type Ring[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int

	// Stats
	totalPushed int64
	totalPopped int64
	dropped     int64
}

// NewRing creates a ring with the given fixed capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push adds an item, evicting the oldest entry when full. Returns true
// if an entry was dropped to make room.
func (r *Ring[T]) Push(item T) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == r.capacity {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.count--
		r.dropped++
		dropped = true
	}

	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.count++
	r.totalPushed++
	return dropped
}

// Pop removes and returns the oldest item without blocking.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		var zero T
		return zero, false
	}

	item := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero // Clear reference for GC
	r.head = (r.head + 1) % r.capacity
	r.count--
	r.totalPopped++
	return item, true
}

// Drain removes and returns all buffered items in order.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}

	out := make([]T, r.count)
	for i := range out {
		out[i] = r.buf[r.head]
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.totalPopped++
	}
	r.count = 0
	return out
}

// Reset discards all buffered items.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count > 0 {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.count--
	}
	r.head, r.tail = 0, 0
}

// Len returns the current number of items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Stats returns buffer statistics.
func (r *Ring[T]) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Count:       r.count,
		Capacity:    r.capacity,
		TotalPushed: r.totalPushed,
		TotalPopped: r.totalPopped,
		Dropped:     r.dropped,
	}
}

// RingStats contains buffer statistics.
type RingStats struct {
	Count       int
	Capacity    int
	TotalPushed int64
	TotalPopped int64
	Dropped     int64
}

package heap

import "sync/atomic"

// Clock hands out attachment handles for the identity map.
//
// Handles are strictly increasing and never reused, so iteration order over
// the heap is the order in which objects were first attached, regardless of
// later detaches.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next handle and advances the clock.
func (c *Clock) Next() Handle {
	return Handle(c.seq.Add(1))
}

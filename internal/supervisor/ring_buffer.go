package supervisor

import "sync"

// RingBuffer is a fixed-capacity circular buffer of Events. The supervisor
// resets it at every Start, so it holds the tail of the current (or most
// recent) process only.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []Event
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([]Event, capacity),
		capacity: capacity,
	}
}

// Write adds an event, overwriting the oldest one when full.
func (rb *RingBuffer) Write(event Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = event
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// Reset empties the buffer without reallocating it.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	clear(rb.buf)
	rb.pos = 0
	rb.full = false
}

// Len returns the number of events currently held.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return rb.capacity
	}
	return rb.pos
}

// ReadAll returns all events in the buffer in chronological order.
func (rb *RingBuffer) ReadAll() []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]Event, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([]Event, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}

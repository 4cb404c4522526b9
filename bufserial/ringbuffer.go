package bufserial

import "go.uber.org/atomic"

// RingBuffer is a fixed-capacity byte queue over caller-supplied storage.
// It never grows and never allocates after construction. Head and tail are
// indices advancing modulo twice the capacity: the extra bit of range keeps
// full and empty distinguishable for any capacity, and index i always maps to
// slot i%size, so the mapping stays consistent across wraparound. A single
// producer and a single consumer may use it concurrently across a preemption
// boundary: the data slot is written before the index that publishes it.
//
// Push always accepts: when the ring is full the oldest unread byte is
// silently discarded (and counted in Drops). Writers that need backpressure
// layer it on top, as Port does with its block-on-full policy.
type RingBuffer struct {
	buf   []byte
	size  uint32
	head  atomic.Uint32 // next write index, in [0, 2*size)
	tail  atomic.Uint32 // next read index, in [0, 2*size)
	drops atomic.Uint32
}

// NewRingBuffer returns a ring backed by buf. The capacity is len(buf) and is
// fixed for the life of the ring; buf must not be empty.
func NewRingBuffer(buf []byte) *RingBuffer {
	if len(buf) == 0 {
		panic("bufserial: ring storage must not be empty")
	}
	return &RingBuffer{buf: buf, size: uint32(len(buf))}
}

// Size returns the total capacity in bytes.
func (rb *RingBuffer) Size() uint32 { return rb.size }

// Used returns how many bytes are currently queued.
func (rb *RingBuffer) Used() uint32 {
	h := rb.head.Load()
	t := rb.tail.Load()
	if h >= t {
		return h - t
	}
	return 2*rb.size - t + h
}

// advance steps an index forward, wrapping at twice the capacity.
func (rb *RingBuffer) advance(i uint32) uint32 {
	i++
	if i == 2*rb.size {
		return 0
	}
	return i
}

// Free returns the remaining space in bytes.
func (rb *RingBuffer) Free() uint32 { return rb.size - rb.Used() }

// Empty reports whether no bytes are queued.
func (rb *RingBuffer) Empty() bool { return rb.Used() == 0 }

// Full reports whether the ring is at capacity.
func (rb *RingBuffer) Full() bool { return rb.Used() == rb.size }

// Push stores a byte. When the ring is full the oldest unread byte is
// discarded so the write always lands.
func (rb *RingBuffer) Push(val byte) {
	if rb.Used() == rb.size {
		rb.tail.Store(rb.advance(rb.tail.Load())) // discard oldest
		rb.drops.Inc()
	}
	h := rb.head.Load()
	rb.buf[h%rb.size] = val      // 1) write data
	rb.head.Store(rb.advance(h)) // 2) publish
}

// Get removes and returns the oldest byte. It returns (0, false) when empty.
func (rb *RingBuffer) Get() (byte, bool) {
	if rb.Used() == 0 {
		return 0, false
	}
	t := rb.tail.Load()
	v := rb.buf[t%rb.size]       // 1) read current element
	rb.tail.Store(rb.advance(t)) // 2) publish consumption
	return v, true
}

// Pop removes and returns the oldest byte, or 0 when the ring is empty.
// Callers that need to distinguish the two use Get or check Empty first.
func (rb *RingBuffer) Pop() byte {
	v, _ := rb.Get()
	return v
}

// Drops returns how many bytes have been discarded by overwrite.
func (rb *RingBuffer) Drops() uint32 { return rb.drops.Load() }

// Clear discards all queued bytes.
func (rb *RingBuffer) Clear() {
	rb.tail.Store(rb.head.Load())
}

package bufserial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBuffer_FIFOOrder(t *testing.T) {
	rb := NewRingBuffer(make([]byte, 8))

	require.True(t, rb.Empty())
	require.False(t, rb.Full())

	for _, b := range []byte("abc") {
		rb.Push(b)
	}
	require.Equal(t, uint32(3), rb.Used())
	require.Equal(t, uint32(5), rb.Free())

	for _, want := range []byte("abc") {
		got, ok := rb.Get()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	require.True(t, rb.Empty())
}

func TestRingBuffer_OverwriteOldest(t *testing.T) {
	// Capacity 4, pushes A..E: A is discarded, the ring holds B..E.
	rb := NewRingBuffer(make([]byte, 4))
	for _, b := range []byte("ABCDE") {
		rb.Push(b)
	}

	require.True(t, rb.Full())
	require.Equal(t, uint32(1), rb.Drops())

	var got []byte
	for !rb.Empty() {
		got = append(got, rb.Pop())
	}
	require.Equal(t, "BCDE", string(got))
}

func TestRingBuffer_HoldsLastCapacityBytes(t *testing.T) {
	// N pushes into capacity C leave exactly min(N, C) bytes: the last ones,
	// in order.
	const capacity = 16
	rb := NewRingBuffer(make([]byte, capacity))

	var pushed []byte
	for i := 0; i < 100; i++ {
		b := byte(i)
		rb.Push(b)
		pushed = append(pushed, b)
	}
	require.Equal(t, uint32(capacity), rb.Used())

	want := pushed[len(pushed)-capacity:]
	for _, w := range want {
		require.Equal(t, w, rb.Pop())
	}
	require.True(t, rb.Empty())
}

func TestRingBuffer_PopOnEmpty(t *testing.T) {
	rb := NewRingBuffer(make([]byte, 4))

	require.Equal(t, byte(0), rb.Pop())

	_, ok := rb.Get()
	require.False(t, ok)
}

func TestRingBuffer_InterleavedPushPop(t *testing.T) {
	rb := NewRingBuffer(make([]byte, 3))

	var got []byte
	next := byte(0)
	for round := 0; round < 20; round++ {
		for i := 0; i < 2 && !rb.Full(); i++ {
			rb.Push(next)
			next++
		}
		if !rb.Empty() {
			got = append(got, rb.Pop())
		}
	}
	for !rb.Empty() {
		got = append(got, rb.Pop())
	}

	// Guarded interleavings lose nothing: popped bytes are the pushed bytes
	// in FIFO order.
	require.Equal(t, uint32(0), rb.Drops())
	for i, b := range got {
		require.Equal(t, byte(i), b)
	}
	require.Equal(t, int(next), len(got))
}

func TestRingBuffer_FIFOAcrossIndexWrap(t *testing.T) {
	// Odd capacity: the index modulus (2*3) is not a power of two, so the
	// slot mapping must survive the indices wrapping back to zero, many
	// times over.
	rb := NewRingBuffer(make([]byte, 3))

	next := byte(0)
	var got []byte
	for i := 0; i < 500; i++ {
		rb.Push(next)
		next++
		rb.Push(next)
		next++
		got = append(got, rb.Pop(), rb.Pop())
	}

	require.Equal(t, uint32(0), rb.Drops())
	require.Equal(t, 1000, len(got))
	for i, b := range got {
		require.Equal(t, byte(i), b)
	}
}

func TestRingBuffer_PushPopAtIndexBoundary(t *testing.T) {
	// Park both indices on the last value before the wrap to zero: a full
	// round of pushes and pops straddling the boundary must stay in order
	// with nothing dropped.
	rb := NewRingBuffer(make([]byte, 3))
	edge := 2*rb.size - 1
	rb.head.Store(edge)
	rb.tail.Store(edge)

	for _, b := range []byte("ABC") {
		rb.Push(b)
	}
	require.True(t, rb.Full())

	var got []byte
	for !rb.Empty() {
		got = append(got, rb.Pop())
	}
	require.Equal(t, "ABC", string(got))
	require.Equal(t, uint32(0), rb.Drops())
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(make([]byte, 4))
	rb.Push('x')
	rb.Push('y')
	rb.Clear()

	require.True(t, rb.Empty())
	require.Equal(t, uint32(4), rb.Free())

	rb.Push('z')
	require.Equal(t, byte('z'), rb.Pop())
}

func TestNewRingBuffer_RejectsEmptyStorage(t *testing.T) {
	require.Panics(t, func() { NewRingBuffer(nil) })
}

package bufserial

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPort(t *testing.T, cfg Config) (*Port, *SimLine) {
	t.Helper()
	line := NewSimLine()
	p := NewPort(line, cfg)
	t.Cleanup(func() { p.Close() })
	return p, line
}

func TestPort_ReceivePath(t *testing.T) {
	p, line := newTestPort(t, Config{})

	require.False(t, p.Readable())

	line.InjectRx('X')
	require.True(t, p.Readable())
	require.Equal(t, byte('X'), p.GetByte())
	require.False(t, p.Readable())
}

func TestPort_GetByteOnEmptyReturnsZero(t *testing.T) {
	p, _ := newTestPort(t, Config{})

	require.Equal(t, byte(0), p.GetByte())

	_, err := p.ReadByte()
	require.ErrorIs(t, err, ErrBufferEmpty)
}

func TestPort_ReadNonBlocking(t *testing.T) {
	p, line := newTestPort(t, Config{})
	buf := make([]byte, 8)

	n, err := p.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)

	line.InjectRxBytes([]byte("ABC"))

	n, err = p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ABC", string(buf[:n]))

	n, _ = p.Read(buf)
	require.Zero(t, n)
}

func TestPort_QueriesAreIdempotent(t *testing.T) {
	p, line := newTestPort(t, Config{})

	for i := 0; i < 3; i++ {
		require.False(t, p.Readable())
		require.True(t, p.Writeable())
	}

	line.InjectRx('a')
	for i := 0; i < 3; i++ {
		require.True(t, p.Readable())
	}
}

func TestPort_WriteStringAppendsNewline(t *testing.T) {
	p, line := newTestPort(t, Config{})

	n := p.WriteString("hi")
	require.Equal(t, 3, n)

	require.True(t, line.Flush(16))
	require.Equal(t, "hi\n", string(line.Sink()))
}

func TestPort_WriteRoundTrip(t *testing.T) {
	p, line := newTestPort(t, Config{})

	msg := []byte("the quick brown fox")
	n, err := p.Write(msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	require.True(t, line.Flush(len(msg)+4))
	require.Equal(t, string(msg), string(line.Sink()))
	require.Zero(t, line.Overruns())
}

func TestPort_WriteEmpty(t *testing.T) {
	p, line := newTestPort(t, Config{})

	n, err := p.Write(nil)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = p.Write([]byte{})
	require.NoError(t, err)
	require.Zero(t, n)

	require.Empty(t, line.Sink())
	require.Zero(t, p.Stats().Primes)
}

func TestPort_PrimeWhileHardwareBusy(t *testing.T) {
	p, line := newTestPort(t, Config{})

	// First byte goes straight to the holding register via the synchronous
	// prime; the interrupt stays armed.
	require.Equal(t, byte('A'), p.PutByte('A'))
	require.True(t, line.TxAttached())
	require.Empty(t, line.Sink())

	// Hardware busy now: further writes must only queue and arm, never touch
	// the register.
	p.PutByte('B')
	p.PutByte('C')
	require.Zero(t, line.Overruns())
	require.Empty(t, line.Sink())

	// The armed interrupt drains the ring as character times pass.
	require.True(t, line.Flush(8))
	require.Equal(t, "ABC", string(line.Sink()))
	require.False(t, line.TxAttached())

	st := p.Stats()
	require.Equal(t, int32(1), st.TxMaxEntered, "transmit handler entered concurrently")
	require.Equal(t, uint32(3), st.TxBytes)
}

func TestPort_TxDisarmsWhenRingEmpty(t *testing.T) {
	p, line := newTestPort(t, Config{})

	p.PutByte('x')
	require.True(t, line.TxAttached())

	// The first clock pushes the held byte out; the handler then observes an
	// empty ring and detaches itself.
	line.ClockTx()
	require.False(t, line.TxAttached())

	// Re-arming happens on the next write.
	p.PutByte('y')
	require.True(t, line.TxAttached())
	require.True(t, line.Flush(8))
	require.Equal(t, "xy", string(line.Sink()))
}

func TestPort_BlockOnFullSpinsUntilSpace(t *testing.T) {
	p, line := newTestPort(t, Config{TxBuf: make([]byte, 2)})

	p.PutByte('a') // occupies the holding register
	p.PutByte('b')
	p.PutByte('c') // TX ring now full: [b c]

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.PutByte('d') // must spin until the interrupt creates space
	}()

	select {
	case <-done:
		t.Fatal("PutByte returned with the TX ring full")
	case <-time.After(20 * time.Millisecond):
	}

	// One character time frees a slot and the writer gets through.
	line.ClockTx()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for blocked PutByte")
	}

	require.True(t, line.Flush(8))
	require.Equal(t, "abcd", string(line.Sink()))
	require.Zero(t, p.Stats().TxDrops)
}

func TestPort_NonBlockingOverwritesOldest(t *testing.T) {
	p, line := newTestPort(t, Config{TxBuf: make([]byte, 2), NonBlocking: true})

	p.PutByte('a') // straight to the holding register
	p.PutByte('b')
	p.PutByte('c')
	p.PutByte('d') // ring full: b is discarded

	require.True(t, line.Flush(8))
	require.Equal(t, "acd", string(line.Sink()))
	require.Equal(t, uint32(1), p.Stats().TxDrops)
}

func TestPort_Drain(t *testing.T) {
	p, line := newTestPort(t, Config{})

	_, err := p.Write([]byte("flush me"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Drain()
	}()

	go func() {
		for !line.Flush(1) {
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Drain")
	}
	require.Equal(t, "flush me", string(line.Sink()))
}

func TestPort_DrainContext(t *testing.T) {
	p, line := newTestPort(t, Config{})

	p.PutByte('a') // holding register occupied
	p.PutByte('b') // stuck in the ring while the hardware stalls

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.Error(t, p.DrainContext(ctx))

	require.True(t, line.Flush(8))
	require.NoError(t, p.DrainContext(context.Background()))
}

func TestPort_ReadByteBlocking_UnblocksOnReceive(t *testing.T) {
	p, line := newTestPort(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var got byte
	var err error

	go func() {
		defer close(done)
		got, err = p.ReadByteBlocking(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	line.InjectRx('Z')

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for ReadByteBlocking")
	}

	require.NoError(t, err)
	require.Equal(t, byte('Z'), got)
}

func TestPort_ReadFullBlocking(t *testing.T) {
	p, line := newTestPort(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := []byte("HELLO")
	got := make([]byte, len(want))

	done := make(chan struct{})
	var n int
	var err error

	go func() {
		defer close(done)
		n, err = p.ReadFullBlocking(ctx, got)
	}()

	time.Sleep(10 * time.Millisecond)
	for _, b := range want {
		line.InjectRx(b)
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(600 * time.Millisecond):
		t.Fatal("timeout waiting for ReadFullBlocking")
	}

	require.NoError(t, err)
	require.Equal(t, len(want), n)
	require.Equal(t, want, got)
}

func TestPort_WaitReadable_RespectsClose(t *testing.T) {
	line := NewSimLine()
	p := NewPort(line, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.WaitReadable(ctx) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for WaitReadable to return after close")
	}
}

func TestPort_CloseDetachesHandlers(t *testing.T) {
	line := NewSimLine()
	p := NewPort(line, Config{})

	require.True(t, line.RxAttached())

	p.PutByte('q')
	require.True(t, line.TxAttached())

	require.NoError(t, p.Close())
	require.False(t, line.RxAttached())
	require.False(t, line.TxAttached())

	// Idempotent.
	require.NoError(t, p.Close())
}

func TestPort_NotifyIsCoalesced(t *testing.T) {
	p, line := newTestPort(t, Config{})

	line.InjectRxBytes([]byte("abcdef"))

	// However many bytes arrived, at most one wake is pending.
	select {
	case <-p.ReadableCh():
	default:
		t.Fatal("expected a pending readable wake")
	}
	select {
	case <-p.ReadableCh():
		t.Fatal("readable wakes must coalesce")
	default:
	}

	// The data is all there regardless.
	buf := make([]byte, 16)
	n, _ := p.Read(buf)
	require.Equal(t, "abcdef", string(buf[:n]))
}

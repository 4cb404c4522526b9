package bufserial

import (
	"errors"
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// ErrBufferEmpty is returned by ReadByte when the RX ring holds no data.
var ErrBufferEmpty = errors.New("serial buffer empty")

// Default ring sizes used when Config leaves the storage nil.
const (
	DefaultRxSize = 0x100
	DefaultTxSize = 0x200
)

// Config carries the construction parameters for a Port.
// Zero values select the defaults: fresh rings of the default sizes, the
// line's current baud rate, and the block-on-full write policy.
type Config struct {
	// BaudRate is forwarded to the line when it implements BaudSetter.
	// 0 leaves the line's rate untouched.
	BaudRate uint32

	// RxBuf and TxBuf are the ring storage. The port owns them exclusively
	// for its lifetime. nil allocates DefaultRxSize/DefaultTxSize.
	RxBuf []byte
	TxBuf []byte

	// NonBlocking disables the block-on-full write policy: writers never
	// spin, and a full TX ring overwrites its oldest unsent byte instead.
	NonBlocking bool
}

// Port is a buffered serial port controller. It owns one RX and one TX ring
// and the interrupt-side handlers that move bytes between the rings and the
// hardware. The receive handler stays attached for the port's lifetime; the
// transmit handler is armed on demand and disarms itself when the TX ring
// runs dry.
//
// Invariants (TX path):
//   - txIRQ is the only writer to the hardware transmit register.
//   - txIRQ is never entered from two contexts at once: prime detaches the
//     handler before its synchronous call and re-attaches after it returns.
//   - armed is the source of truth for the handler state; AttachTx mirrors it
//     at the hardware boundary.
type Port struct {
	line Line

	rx *RingBuffer
	tx *RingBuffer

	blockOnFull bool
	armed       atomic.Bool
	txBusy      atomic.Bool

	notify   chan struct{} // coalesced RX readiness wakes
	txNotify chan struct{} // coalesced TX progress/drain wakes

	closed    chan struct{}
	closeOnce sync.Once

	stats portStats
}

// NewPort wires a controller to line and attaches the receive handler.
// The transmit handler starts detached; the first write arms it.
func NewPort(line Line, cfg Config) *Port {
	if len(cfg.RxBuf) == 0 {
		cfg.RxBuf = make([]byte, DefaultRxSize)
	}
	if len(cfg.TxBuf) == 0 {
		cfg.TxBuf = make([]byte, DefaultTxSize)
	}
	p := &Port{
		line:        line,
		rx:          NewRingBuffer(cfg.RxBuf),
		tx:          NewRingBuffer(cfg.TxBuf),
		blockOnFull: !cfg.NonBlocking,
		notify:      make(chan struct{}, 1),
		txNotify:    make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	if cfg.BaudRate != 0 {
		if bs, ok := line.(BaudSetter); ok {
			bs.SetBaudRate(cfg.BaudRate)
		}
	}
	line.AttachRx(p.rxIRQ)
	return p
}

// Close detaches both handlers and unblocks context-based waiters.
// Safe to call multiple times.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.line.AttachRx(nil)
		p.armed.Store(false)
		p.line.AttachTx(nil)
	})
	return nil
}

// ---------------- application-side read path ----------------

// Readable reports whether the RX ring holds at least one byte.
// Side-effect free.
func (p *Port) Readable() bool { return p.rx.Used() > 0 }

// GetByte pops one byte from the RX ring. Callers should check Readable
// first; on an empty ring it returns 0 rather than failing. ReadByte is the
// strict variant.
func (p *Port) GetByte() byte { return p.rx.Pop() }

// ReadByte pops one byte from the RX ring, or returns ErrBufferEmpty.
func (p *Port) ReadByte() (byte, error) {
	b, ok := p.rx.Get()
	if !ok {
		return 0, ErrBufferEmpty
	}
	return b, nil
}

// Read copies up to len(buf) bytes out of the RX ring. It never blocks and
// never returns an error; n==0 means "no data now".
func (p *Port) Read(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		b, ok := p.rx.Get()
		if !ok {
			break
		}
		buf[n] = b
		n++
	}
	return n, nil
}

// Buffered returns the number of bytes queued in the RX ring.
func (p *Port) Buffered() int { return int(p.rx.Used()) }

// ---------------- application-side write path ----------------

// Writeable always reports true: the TX ring accepts every write, discarding
// its oldest byte when full unless the block-on-full policy makes the writer
// spin instead. Backpressure, when enabled, happens inside the write calls.
func (p *Port) Writeable() bool { return true }

// PutByte queues one byte for transmission and primes the hardware.
// Under the block-on-full policy it spins until the TX ring has room.
// It returns the byte written.
func (p *Port) PutByte(b byte) byte {
	p.waitTxSpace()
	p.tx.Push(b)
	maxUint32(&p.stats.txMaxUsed, p.tx.Used())
	p.prime()
	return b
}

// WriteString queues every byte of s plus a trailing newline, then primes
// once. It returns len(s)+1, the number of bytes queued.
func (p *Port) WriteString(s string) int {
	for i := 0; i < len(s); i++ {
		p.waitTxSpace()
		p.tx.Push(s[i])
	}
	p.waitTxSpace()
	p.tx.Push('\n') // line terminator, per puts convention
	maxUint32(&p.stats.txMaxUsed, p.tx.Used())
	p.prime()
	return len(s) + 1
}

// Write implements io.Writer. It queues all of buf and primes once. A nil or
// empty buf queues nothing and returns (0, nil). Write returns once the bytes
// are accepted by the rings/hardware; use Drain for on-the-wire completion.
func (p *Port) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for _, b := range buf {
		p.waitTxSpace()
		p.tx.Push(b)
	}
	maxUint32(&p.stats.txMaxUsed, p.tx.Used())
	p.prime()
	return len(buf), nil
}

// TxFree returns the remaining space in the TX ring in bytes.
func (p *Port) TxFree() int { return int(p.tx.Free()) }

// Drain spins until the TX ring is empty: a synchronous flush barrier.
// It does not wait for the last byte to leave the hardware shifter.
// If the hardware stalls permanently, Drain never returns; DrainContext is
// the cancellable variant.
func (p *Port) Drain() {
	for p.tx.Used() > 0 {
		runtime.Gosched()
	}
}

// waitTxSpace implements the block-on-full policy: spin until the transmit
// interrupt creates space. With the policy disabled it returns immediately
// and the ring overwrites.
func (p *Port) waitTxSpace() {
	for p.blockOnFull && p.tx.Full() {
		runtime.Gosched()
	}
}

// ---------------- notification surface ----------------

// ReadableCh returns a coalesced notification channel for RX readiness.
// The receive handler sends on it after enqueueing bytes. Receivers must
// re-check state after waking.
func (p *Port) ReadableCh() <-chan struct{} { return p.notify }

// WritableCh returns a coalesced notification channel for TX progress.
// The transmit handler sends on it each time it moves bytes to the hardware.
func (p *Port) WritableCh() <-chan struct{} { return p.txNotify }

func (p *Port) wakeRx() {
	select {
	case p.notify <- struct{}{}:
		p.stats.notifySent.Inc()
	default:
		p.stats.notifyDropped.Inc()
	}
}

func (p *Port) wakeTx() {
	select {
	case p.txNotify <- struct{}{}:
		p.stats.notifySent.Inc()
	default:
		p.stats.notifyDropped.Inc()
	}
}

// ---------------- interrupt-side handlers ----------------

// rxIRQ is the receive handler. It drains the hardware into the RX ring and
// coalesces a Readable wake. Attached for the port's whole lifetime; runs in
// interrupt context and must not block.
func (p *Port) rxIRQ() {
	p.stats.rxIRQs.Inc()
	n := 0
	for p.line.RxReady() {
		p.rx.Push(p.line.ReadByte())
		n++
	}
	if n > 0 {
		p.stats.rxBytes.Add(uint32(n))
		maxUint32(&p.stats.rxMaxUsed, p.rx.Used())
		p.wakeRx()
	}
}

// txIRQ is the transmit handler: while the hardware accepts bytes, pop from
// the TX ring and hand them over; when the ring runs dry, disarm. It is the
// sole writer to the hardware transmit register and the sole place the TX
// interrupt is disarmed.
func (p *Port) txIRQ() {
	// Serialize the handler body. On a single-core interrupt target the swap
	// never fails: prime detaches before its synchronous call and the ISR
	// cannot preempt itself. Where contexts are goroutines and can genuinely
	// overlap, the loser backs off; the context already inside the loop will
	// pick up any byte the loser just pushed.
	if !p.txBusy.CompareAndSwap(false, true) {
		return
	}
	defer p.txBusy.Store(false)

	in := p.stats.txInFlight.Inc()
	maxInt32(&p.stats.txMaxEntered, in)
	p.stats.txIRQs.Inc()

	for p.line.TxReady() {
		b, ok := p.tx.Get()
		if !ok {
			p.disarm() // nothing left to send
			if p.tx.Used() > 0 {
				// A writer slipped a byte in between the empty check and the
				// disarm. Its own prime saw us armed, so re-arm here.
				p.arm()
			}
			break
		}
		p.line.WriteByte(b)
		p.stats.txBytes.Inc()
	}
	p.wakeTx()

	p.stats.txInFlight.Dec()
}

// prime forces one synchronous drain attempt after an application-side push.
// When the hardware is ready it disarms the interrupt, runs the handler once
// from this context, then re-arms — the handler body is never entered from
// two contexts. When the hardware is busy, the armed interrupt picks the
// bytes up on its own; prime only makes sure it is armed.
func (p *Port) prime() {
	p.stats.primes.Inc()
	if p.line.TxReady() {
		p.disarm() // keep the handler single-entry
		p.txIRQ()
		p.arm() // catch whatever the synchronous drain left behind
		return
	}
	if p.tx.Used() > 0 {
		p.arm()
	}
}

// arm attaches the transmit handler unless it already is.
func (p *Port) arm() {
	if p.armed.CompareAndSwap(false, true) {
		p.line.AttachTx(p.txIRQ)
	}
}

// disarm detaches the transmit handler unless it already is.
func (p *Port) disarm() {
	if p.armed.CompareAndSwap(true, false) {
		p.line.AttachTx(nil)
	}
}

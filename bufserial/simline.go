package bufserial

import "sync"

// SimLine is an in-memory Line for tests and host tooling. It models a
// one-byte transmit holding register draining into a sink slice, and an RX
// FIFO fed by InjectRx. The attached handlers run when the test clocks the
// line, standing in for the hardware interrupt dispatch.
//
// Handlers are invoked with the internal lock released, so they are free to
// call back into the line.
type SimLine struct {
	mu sync.Mutex

	rxPending []byte
	rxHandler func()

	txHold    byte
	txFull    bool
	sink      []byte
	txHandler func()

	overruns int
}

func NewSimLine() *SimLine { return &SimLine{} }

// ---------------- Line implementation ----------------

func (l *SimLine) RxReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rxPending) > 0
}

func (l *SimLine) ReadByte() byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rxPending) == 0 {
		return 0
	}
	b := l.rxPending[0]
	l.rxPending = l.rxPending[1:]
	return b
}

func (l *SimLine) TxReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.txFull
}

func (l *SimLine) WriteByte(b byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txFull {
		l.overruns++ // caller violated the TxReady contract
	}
	l.txHold = b
	l.txFull = true
}

func (l *SimLine) AttachRx(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rxHandler = fn
}

func (l *SimLine) AttachTx(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txHandler = fn
}

// ---------------- wire-side controls ----------------

// InjectRx delivers one byte from the wire and fires the receive interrupt.
func (l *SimLine) InjectRx(b byte) {
	l.mu.Lock()
	l.rxPending = append(l.rxPending, b)
	fn := l.rxHandler
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// InjectRxBytes delivers each byte of p in order, firing the receive
// interrupt per byte.
func (l *SimLine) InjectRxBytes(p []byte) {
	for _, b := range p {
		l.InjectRx(b)
	}
}

// ClockTx advances one character time: the holding register, if occupied,
// shifts out to the sink, and the attached transmit interrupt fires now that
// the hardware can accept another byte.
func (l *SimLine) ClockTx() {
	l.mu.Lock()
	if l.txFull {
		l.sink = append(l.sink, l.txHold)
		l.txFull = false
	}
	fn := l.txHandler
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Flush clocks the line until the holding register is empty and no transmit
// handler remains attached, up to limit ticks. It reports whether the line
// went idle.
func (l *SimLine) Flush(limit int) bool {
	for i := 0; i < limit; i++ {
		l.mu.Lock()
		idle := !l.txFull && l.txHandler == nil
		l.mu.Unlock()
		if idle {
			return true
		}
		l.ClockTx()
	}
	l.mu.Lock()
	idle := !l.txFull && l.txHandler == nil
	l.mu.Unlock()
	return idle
}

// Sink returns a copy of every byte transmitted so far, in wire order.
func (l *SimLine) Sink() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]byte, len(l.sink))
	copy(out, l.sink)
	return out
}

// Overruns returns how many times WriteByte was called while the holding
// register was occupied.
func (l *SimLine) Overruns() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overruns
}

// TxAttached reports whether a transmit handler is currently registered.
func (l *SimLine) TxAttached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txHandler != nil
}

// RxAttached reports whether a receive handler is currently registered.
func (l *SimLine) RxAttached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rxHandler != nil
}

package bufserial

// Line is the minimal hardware capability the port controller drives: byte-at-
// a-time register access plus interrupt handler registration. Implementations
// invoke the attached handlers from whatever stands in for interrupt context
// (a real ISR, a poll goroutine, a test clocking the line by hand).
type Line interface {
	// RxReady reports whether the hardware holds at least one received byte.
	RxReady() bool
	// ReadByte pops one byte from the hardware receive register. Callers must
	// check RxReady first; the value is unspecified otherwise.
	ReadByte() byte
	// TxReady reports whether the hardware can accept a byte right now.
	TxReady() bool
	// WriteByte hands one byte to the hardware transmit register. Callers must
	// check TxReady first.
	WriteByte(b byte)
	// AttachRx registers fn to run when receive data arrives. nil detaches.
	AttachRx(fn func())
	// AttachTx registers fn to run when the hardware can accept more data.
	// nil detaches. At most one handler is registered at any instant.
	AttachTx(fn func())
}

// BaudSetter is implemented by lines whose bit rate can be reprogrammed after
// construction. NewPort forwards Config.BaudRate to lines that support it.
type BaudSetter interface {
	SetBaudRate(br uint32)
}

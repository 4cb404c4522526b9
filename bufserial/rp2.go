//go:build rp2040 || rp2350

package bufserial

import (
	"device/rp"
	"errors"
	"machine"
	"runtime/interrupt"
)

// PL011 exposes one RP2040/RP2350 UART as a Line. Arming and disarming the
// transmit interrupt maps onto setting and clearing TXIM in UARTIMSC; the
// receive interrupt (RXIM|RTIM) follows the RX handler the same way. One
// shared ISR dispatches on the masked interrupt status to whichever handlers
// are attached.
type PL011 struct {
	Bus       *rp.UART0_Type
	Interrupt interrupt.Interrupt

	rxHandler func()
	txHandler func()
}

// Package-level instances for the two on-chip UARTs.
var (
	UART0 = &_UART0
	UART1 = &_UART1

	_UART0 = PL011{Bus: rp.UART0}
	_UART1 = PL011{Bus: rp.UART1}
)

// PL011Config selects pins and line rate for Configure. Set RTS and CTS to
// machine.NoPin to leave them unmuxed (GPIO0 is a valid UART pin, so zero is
// not a marker for "unused"); flow control is enabled only when both are set.
type PL011Config struct {
	BaudRate uint32
	TX       machine.Pin
	RX       machine.Pin
	RTS      machine.Pin
	CTS      machine.Pin
}

// Configure resets the peripheral, muxes the pins, programs baud and 8N1
// format with FIFOs enabled, and installs the ISR. Both interrupt sources
// start masked; AttachRx/AttachTx unmask them.
func (l *PL011) Configure(cfg PL011Config) error {
	l.resetAndUnreset()

	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.TX == machine.NoPin && cfg.RX == machine.NoPin {
		cfg.TX = machine.UART_TX_PIN
		cfg.RX = machine.UART_RX_PIN
	}

	// Disable while configuring.
	l.Bus.UARTCR.ClearBits(rp.UART0_UARTCR_UARTEN | rp.UART0_UARTCR_RXE | rp.UART0_UARTCR_TXE)

	// Mux pins before touching baud/format.
	if cfg.TX != machine.NoPin {
		cfg.TX.Configure(machine.PinConfig{Mode: machine.PinUART})
	}
	if cfg.RX != machine.NoPin {
		cfg.RX.Configure(machine.PinConfig{Mode: machine.PinUART})
	}
	if cfg.RTS != machine.NoPin {
		cfg.RTS.Configure(machine.PinConfig{Mode: machine.PinUART})
	}
	if cfg.CTS != machine.NoPin {
		cfg.CTS.Configure(machine.PinConfig{Mode: machine.PinUART})
	}

	l.SetBaudRate(cfg.BaudRate)
	_ = l.SetFormat(8, 1, 0) // 8N1 with FIFOs enabled

	// Clear pending IRQs and purge the RX FIFO.
	l.Bus.UARTICR.Set(0x7FF)
	for !l.Bus.UARTFR.HasBits(rp.UART0_UARTFR_RXFE) {
		_ = l.Bus.UARTDR.Get()
	}
	l.Bus.UARTRSR.Set(0) // clear sticky RX errors

	// Enable UART and optional flow control (only with both pins valid).
	settings := uint32(rp.UART0_UARTCR_UARTEN | rp.UART0_UARTCR_RXE | rp.UART0_UARTCR_TXE)
	if cfg.RTS != machine.NoPin && cfg.CTS != machine.NoPin {
		settings |= rp.UART0_UARTCR_RTSEN | rp.UART0_UARTCR_CTSEN
	}
	l.Bus.UARTCR.Set(settings)

	// ISR installed lazily so a package-level instance costs nothing unused.
	if l.Interrupt == (interrupt.Interrupt{}) {
		irqNum := map[*rp.UART0_Type]int{
			rp.UART0: rp.IRQ_UART0_IRQ,
			rp.UART1: rp.IRQ_UART1_IRQ,
		}[l.Bus]
		l.Interrupt = interrupt.New(irqNum, l.handleInterrupt)
		l.Interrupt.SetPriority(0x80)
		l.Interrupt.Enable()
	}
	// IFLS=0: RX/TX thresholds at 1/8 for lowest latency.
	l.Bus.UARTIFLS.Set(0)
	l.Bus.UARTIMSC.Set(0) // everything masked until a handler attaches

	return nil
}

// SetBaudRate programs the integer and fractional divisors and performs the
// LCR_H write the PL011 requires to latch them.
func (l *PL011) SetBaudRate(br uint32) {
	div := 8 * machine.CPUFrequency() / br

	ibrd := div >> 7
	var fbrd uint32
	switch {
	case ibrd == 0:
		ibrd = 1
	case ibrd >= 65535:
		ibrd = 65535
	default:
		fbrd = ((div & 0x7f) + 1) / 2
	}

	l.Bus.UARTIBRD.Set(ibrd)
	l.Bus.UARTFBRD.Set(fbrd)
	l.Bus.UARTLCR_H.Set(l.Bus.UARTLCR_H.Get())
}

// SetFormat sets data bits, stop bits and parity (0 none, 1 even, 2 odd) and
// enables the FIFOs. It writes the full LCR_H value.
func (l *PL011) SetFormat(databits, stopbits uint8, parity uint8) error {
	if databits < 5 || databits > 8 {
		return errors.New("invalid databits")
	}
	if stopbits != 1 && stopbits != 2 {
		return errors.New("invalid stopbits")
	}

	var pen, pev uint32
	if parity != 0 {
		pen = rp.UART0_UARTLCR_H_PEN
		if parity == 1 {
			pev = rp.UART0_UARTLCR_H_EPS
		}
	}
	const fen = rp.UART0_UARTLCR_H_FEN

	val := uint32((databits-5)<<rp.UART0_UARTLCR_H_WLEN_Pos|
		(stopbits-1)<<rp.UART0_UARTLCR_H_STP2_Pos) |
		pen | pev | fen

	l.Bus.UARTLCR_H.Set(val)
	return nil
}

func (l *PL011) resetAndUnreset() {
	var mask uint32
	switch l.Bus {
	case rp.UART0:
		mask = rp.RESETS_RESET_UART0
	case rp.UART1:
		mask = rp.RESETS_RESET_UART1
	}
	rp.RESETS.RESET.SetBits(mask)
	rp.RESETS.RESET.ClearBits(mask)
	for !rp.RESETS.RESET_DONE.HasBits(mask) {
	}
}

// ---------------- Line implementation ----------------

func (l *PL011) RxReady() bool {
	return !l.Bus.UARTFR.HasBits(rp.UART0_UARTFR_RXFE)
}

// ReadByte pops one byte from the RX FIFO. Reading DR clears the per-byte
// error flags; errored bytes come back as their data bits.
func (l *PL011) ReadByte() byte {
	return byte(l.Bus.UARTDR.Get() & 0xFF)
}

func (l *PL011) TxReady() bool {
	return !l.Bus.UARTFR.HasBits(rp.UART0_UARTFR_TXFF)
}

func (l *PL011) WriteByte(b byte) {
	l.Bus.UARTDR.Set(uint32(b))
}

func (l *PL011) AttachRx(fn func()) {
	l.rxHandler = fn
	if fn != nil {
		l.Bus.UARTIMSC.SetBits(rp.UART0_UARTIMSC_RXIM | rp.UART0_UARTIMSC_RTIM)
	} else {
		l.Bus.UARTIMSC.ClearBits(rp.UART0_UARTIMSC_RXIM | rp.UART0_UARTIMSC_RTIM)
	}
}

func (l *PL011) AttachTx(fn func()) {
	if fn == nil {
		// Mask first so no TX interrupt fires into a nil handler.
		l.Bus.UARTIMSC.ClearBits(rp.UART0_UARTIMSC_TXIM)
		l.txHandler = nil
		return
	}
	l.txHandler = fn
	l.Bus.UARTIMSC.SetBits(rp.UART0_UARTIMSC_TXIM)
}

// handleInterrupt dispatches RX level/timeout and TX level interrupts to the
// attached handlers and acknowledges the sources.
func (l *PL011) handleInterrupt(interrupt.Interrupt) {
	mis := l.Bus.UARTMIS.Get()

	if mis&(rp.UART0_UARTMIS_RXMIS|rp.UART0_UARTMIS_RTMIS) != 0 {
		if fn := l.rxHandler; fn != nil {
			fn()
		}
		l.Bus.UARTICR.Set(rp.UART0_UARTICR_RXIC | rp.UART0_UARTICR_RTIC)
		l.Bus.UARTRSR.Set(0)
	}

	if mis&rp.UART0_UARTMIS_TXMIS != 0 {
		if fn := l.txHandler; fn != nil {
			fn()
		}
		l.Bus.UARTICR.Set(rp.UART0_UARTICR_TXIC)
	}
}

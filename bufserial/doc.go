// Package bufserial provides buffered, interrupt-driven transmit and receive
// for a byte-oriented serial line. Application writes land in a software TX
// ring that the transmit interrupt drains into the hardware one byte at a
// time; the receive interrupt fills a software RX ring that the application
// reads at its own pace. The TX interrupt is armed on demand ("priming") and
// disarms itself when the ring runs dry, so the handler body is only ever
// entered from one context at a time.
//
// Hardware access goes through the Line interface. The package ships an
// in-memory SimLine for tests and host tooling, a PL011 backend for
// RP2040/RP2350 under TinyGo build tags, and package hostline adapts a Linux
// terminal device.
package bufserial

package bufserial

import "go.uber.org/atomic"

// portStats holds the live counters. All fields are updated with atomic ops
// so the interrupt side and the application side never need a lock.
type portStats struct {
	rxIRQs  atomic.Uint32
	txIRQs  atomic.Uint32
	rxBytes atomic.Uint32
	txBytes atomic.Uint32
	primes  atomic.Uint32

	rxMaxUsed atomic.Uint32
	txMaxUsed atomic.Uint32

	notifySent    atomic.Uint32
	notifyDropped atomic.Uint32
	spuriousWakes atomic.Uint32

	txInFlight   atomic.Int32
	txMaxEntered atomic.Int32
}

// Stats is a snapshot of a port's counters since construction.
type Stats struct {
	RxIRQs  uint32 // receive handler entries
	TxIRQs  uint32 // transmit handler entries (interrupt and prime)
	RxBytes uint32 // bytes moved hardware -> RX ring
	TxBytes uint32 // bytes moved TX ring -> hardware
	Primes  uint32 // prime attempts after application writes

	RxDrops   uint32 // RX ring bytes discarded by overwrite
	TxDrops   uint32 // TX ring bytes discarded by overwrite
	RxMaxUsed uint32 // RX ring occupancy high-water mark
	TxMaxUsed uint32 // TX ring occupancy high-water mark

	NotifySent    uint32 // coalesced wakes delivered
	NotifyDropped uint32 // coalesced wakes already pending
	SpuriousWakes uint32 // wakes with no data behind them

	// TxMaxEntered is the highest number of simultaneous transmit handler
	// entries ever observed. 1 means the single-entry invariant held.
	TxMaxEntered int32
}

// Stats returns a copy of the port's counters.
func (p *Port) Stats() Stats {
	return Stats{
		RxIRQs:  p.stats.rxIRQs.Load(),
		TxIRQs:  p.stats.txIRQs.Load(),
		RxBytes: p.stats.rxBytes.Load(),
		TxBytes: p.stats.txBytes.Load(),
		Primes:  p.stats.primes.Load(),

		RxDrops:   p.rx.Drops(),
		TxDrops:   p.tx.Drops(),
		RxMaxUsed: p.stats.rxMaxUsed.Load(),
		TxMaxUsed: p.stats.txMaxUsed.Load(),

		NotifySent:    p.stats.notifySent.Load(),
		NotifyDropped: p.stats.notifyDropped.Load(),
		SpuriousWakes: p.stats.spuriousWakes.Load(),

		TxMaxEntered: p.stats.txMaxEntered.Load(),
	}
}

// maxUint32 raises g to v if v is higher.
func maxUint32(g *atomic.Uint32, v uint32) {
	for {
		cur := g.Load()
		if v <= cur {
			return
		}
		if g.CompareAndSwap(cur, v) {
			return
		}
	}
}

// maxInt32 raises g to v if v is higher.
func maxInt32(g *atomic.Int32, v int32) {
	for {
		cur := g.Load()
		if v <= cur {
			return
		}
		if g.CompareAndSwap(cur, v) {
			return
		}
	}
}

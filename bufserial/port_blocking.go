package bufserial

import "context"

// Context-based blocking helpers layered over the coalesced notify channels.
// These are the non-spinning alternative to the block-on-full/Drain spin
// paths; the defaults are unchanged.

// WaitReadable blocks until the RX ring holds data, the port is closed, or
// ctx is done.
func (p *Port) WaitReadable(ctx context.Context) error {
	if p.Buffered() > 0 {
		return nil
	}
	for {
		select {
		case <-p.notify:
			if p.Buffered() > 0 {
				return nil
			}
			p.stats.spuriousWakes.Inc() // coalesced notify; re-check and wait again
		case <-p.closed:
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadBlocking blocks until at least one byte is available, then reads up to
// len(buf) bytes.
func (p *Port) ReadBlocking(ctx context.Context, buf []byte) (int, error) {
	for {
		if n, _ := p.Read(buf); n > 0 {
			return n, nil
		}
		if err := p.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadFullBlocking blocks until exactly len(buf) bytes have been read.
func (p *Port) ReadFullBlocking(ctx context.Context, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		if n, _ := p.Read(buf[read:]); n > 0 {
			read += n
			continue
		}
		if err := p.WaitReadable(ctx); err != nil {
			return read, err
		}
	}
	return read, nil
}

// ReadByteBlocking blocks for a single byte or until ctx is done.
func (p *Port) ReadByteBlocking(ctx context.Context) (byte, error) {
	for {
		if b, err := p.ReadByte(); err == nil {
			return b, nil
		}
		if err := p.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// DrainContext blocks until the TX ring is empty, the port is closed, or ctx
// is done. The event-driven counterpart to Drain.
func (p *Port) DrainContext(ctx context.Context) error {
	for {
		if p.tx.Used() == 0 {
			return nil
		}
		select {
		case <-p.txNotify:
			// progress likely occurred; re-check
		case <-p.closed:
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

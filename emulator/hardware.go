package emulator

import "time"

// PulseInput is the physical sensor line. Attach registers an edge
// handler with the pin's interrupt source; the handler runs in
// interrupt context and must not block, allocate or lock. Detach must
// be idempotent and stop all callbacks before returning.
type PulseInput interface {
	Attach(handler func(ts time.Time)) error
	Detach()
}

// PulseOutput drives the regenerated sensor line toward the controller.
type PulseOutput interface {
	Pulse(width time.Duration) error
}

// pulseLatch carries edge timestamps from interrupt context to the
// emulation task: a single-producer/single-consumer channel of
// capacity one with latest-wins overwrite. The producer never blocks;
// the consumer only drains.
type pulseLatch struct {
	ch chan time.Time
}

func newPulseLatch() *pulseLatch {
	return &pulseLatch{ch: make(chan time.Time, 1)}
}

// put stores the newest edge, displacing a pending one.
func (l *pulseLatch) put(ts time.Time) {
	select {
	case l.ch <- ts:
		return
	default:
	}
	select {
	case <-l.ch:
	default:
	}
	select {
	case l.ch <- ts:
	default:
	}
}

// take consumes the pending edge, if any.
func (l *pulseLatch) take() (time.Time, bool) {
	select {
	case ts := <-l.ch:
		return ts, true
	default:
		return time.Time{}, false
	}
}

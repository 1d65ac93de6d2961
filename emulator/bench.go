package emulator

import (
	"sync"
	"time"
)

// BenchPulseInput is a PulseInput for bench validation without physical
// hardware: tests and the -bench run inject edges directly.
type BenchPulseInput struct {
	mu      sync.Mutex
	handler func(ts time.Time)
}

func NewBenchPulseInput() *BenchPulseInput {
	return &BenchPulseInput{}
}

func (b *BenchPulseInput) Attach(handler func(ts time.Time)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *BenchPulseInput) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = nil
}

// InjectEdge simulates one rising edge on the sensor line.
func (b *BenchPulseInput) InjectEdge(ts time.Time) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(ts)
	}
}

// BenchPulseOutput records emitted pulses instead of driving a pin.
type BenchPulseOutput struct {
	mu     sync.Mutex
	pulses []time.Duration
}

func NewBenchPulseOutput() *BenchPulseOutput {
	return &BenchPulseOutput{}
}

func (b *BenchPulseOutput) Pulse(width time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pulses = append(b.pulses, width)
	return nil
}

// Count returns how many pulses were emitted.
func (b *BenchPulseOutput) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pulses)
}

// Reset clears the recorded pulses.
func (b *BenchPulseOutput) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pulses = nil
}

package emulator

import (
	"math/rand"
	"time"
)

// naturalJitterRatio bounds the pseudo-random timing noise injected in
// natural waveform mode so the regenerated line shows the same organic
// variation an unmodified sensor does.
const naturalJitterRatio = 0.01

// stealthBlendRatio is how strongly the stealth waveform leans toward
// the interval implied by the last legitimate bus telemetry.
const stealthBlendRatio = 0.1

// pulseGenerator schedules output edges from the filtered output speed.
type pulseGenerator struct {
	out PulseOutput
	rng *rand.Rand

	lastOutput time.Time
}

func newPulseGenerator(out PulseOutput) *pulseGenerator {
	return &pulseGenerator{
		out: out,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Tick emits the next edge when it is due. A zero interval suppresses
// output entirely; a malformed edge must never reach the controller.
// busInterval carries the pulse interval implied by the last bus-
// reported speed, zero when unavailable.
func (g *pulseGenerator) Tick(now time.Time, interval time.Duration, stealth bool, busInterval time.Duration) (bool, error) {
	if interval <= 0 {
		g.lastOutput = time.Time{}
		return false, nil
	}

	if stealth && busInterval > 0 {
		// Keep the regenerated line and the reported bus speed
		// mutually consistent.
		interval += time.Duration(float64(busInterval-interval) * stealthBlendRatio)
	}

	// Natural waveform: small bounded jitter matching sensor noise.
	jitter := time.Duration((g.rng.Float64()*2 - 1) * naturalJitterRatio * float64(interval))
	interval += jitter

	if g.lastOutput.IsZero() {
		g.lastOutput = now
		return false, nil
	}

	if now.Sub(g.lastOutput) < interval {
		return false, nil
	}

	// Advance by the interval, not to now, so long cycles do not
	// accumulate phase error; if we fell further behind, skip and
	// catch up instead of queueing edges.
	g.lastOutput = g.lastOutput.Add(interval)
	if now.Sub(g.lastOutput) > interval {
		g.lastOutput = now
	}

	if err := g.out.Pulse(outputPulseWidth); err != nil {
		return false, err
	}
	return true, nil
}

// Reset forgets output phase, e.g. after recalibration.
func (g *pulseGenerator) Reset() {
	g.lastOutput = time.Time{}
}

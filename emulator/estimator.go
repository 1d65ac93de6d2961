package emulator

import (
	"time"

	"github.com/chewxy/math32"
)

// qualityFloor is the score below which the signal is not trusted and
// the pipeline passes through zero output instead of guessing.
const qualityFloor float32 = 30

// speedEstimator turns pulse intervals into road speed and tracks a
// 0..100 quality score. The score decays while intervals are noisy and
// recovers as consistency returns.
type speedEstimator struct {
	metersPerPulse float32

	intervals [FilterWindowSize]float32 // seconds
	head      int
	count     int

	avgFreq float32 // Hz, rolling
	quality float32
}

func newSpeedEstimator(circumference float32, pulsesPerRev int) *speedEstimator {
	e := &speedEstimator{}
	e.SetGeometry(circumference, pulsesPerRev)
	e.quality = 100
	return e
}

// SetGeometry recomputes the conversion constant; used by runtime
// calibration.
func (e *speedEstimator) SetGeometry(circumference float32, pulsesPerRev int) {
	if pulsesPerRev < 1 {
		pulsesPerRev = 1
	}
	e.metersPerPulse = circumference / float32(pulsesPerRev)
}

// SpeedFromInterval converts one pulse interval to km/h. Monotonically
// decreasing in the interval; zero for non-positive intervals.
func (e *speedEstimator) SpeedFromInterval(interval time.Duration) float32 {
	sec := float32(interval.Seconds())
	if sec <= 0 {
		return 0
	}
	return e.metersPerPulse / sec * 3.6
}

// IntervalForSpeed is the inverse conversion; ok is false when the
// speed cannot be represented as a pulse train.
func (e *speedEstimator) IntervalForSpeed(speedKmh float32) (time.Duration, bool) {
	if speedKmh <= 0 || math32.IsNaN(speedKmh) || math32.IsInf(speedKmh, 0) {
		return 0, false
	}
	sec := e.metersPerPulse / (speedKmh / 3.6)
	if sec <= 0 || math32.IsInf(sec, 0) {
		return 0, false
	}
	return time.Duration(float64(sec) * float64(time.Second)), true
}

// Observe records one valid interval: rolling average frequency plus
// the variance-driven quality update.
func (e *speedEstimator) Observe(interval time.Duration) {
	sec := float32(interval.Seconds())
	if sec <= 0 {
		return
	}

	e.intervals[e.head] = sec
	e.head = (e.head + 1) % FilterWindowSize
	if e.count < FilterWindowSize {
		e.count++
	}

	mean := e.meanInterval()
	if mean > 0 {
		e.avgFreq = 1 / mean
	}

	// Coefficient of variation across the window drives the score:
	// steady riding approaches 100, contact noise pulls it down.
	cv := e.intervalStdDev(mean) / mean
	target := 100 - cv*400
	if target < 0 {
		target = 0
	}
	e.quality += (target - e.quality) * 0.25
	if e.quality > 100 {
		e.quality = 100
	}
	if e.quality < 0 {
		e.quality = 0
	}
}

func (e *speedEstimator) meanInterval() float32 {
	if e.count == 0 {
		return 0
	}
	var sum float32
	for i := 0; i < e.count; i++ {
		sum += e.intervals[i]
	}
	return sum / float32(e.count)
}

func (e *speedEstimator) intervalStdDev(mean float32) float32 {
	if e.count < 2 {
		return 0
	}
	var sum float32
	for i := 0; i < e.count; i++ {
		d := e.intervals[i] - mean
		sum += d * d
	}
	return math32.Sqrt(sum / float32(e.count))
}

// Quality returns the 0..100 signal quality score.
func (e *speedEstimator) Quality() uint32 {
	return uint32(e.quality + 0.5)
}

// AverageFrequency returns the rolling pulse frequency in Hz.
func (e *speedEstimator) AverageFrequency() float32 {
	return e.avgFreq
}

// Valid reports whether downstream stages may trust the signal.
func (e *speedEstimator) Valid() bool {
	return e.count > 0 && e.quality >= qualityFloor
}

// Reset returns the estimator to its power-on state.
func (e *speedEstimator) Reset() {
	e.head = 0
	e.count = 0
	e.avgFreq = 0
	e.quality = 100
	for i := range e.intervals {
		e.intervals[i] = 0
	}
}

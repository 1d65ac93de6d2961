package emulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeedFromInterval_KnownFixture(t *testing.T) {
	// 2.1m wheel, one pulse per revolution, 100ms interval:
	// 2.1 / 0.1 * 3.6 = 75.6 km/h
	est := newSpeedEstimator(2.1, 1)
	assert.InDelta(t, 75.6, est.SpeedFromInterval(100*time.Millisecond), 0.001)
}

func TestSpeedFromInterval_MonotoneDecreasing(t *testing.T) {
	est := newSpeedEstimator(2.1, 1)

	prev := est.SpeedFromInterval(10 * time.Millisecond)
	for _, ms := range []int{20, 50, 100, 250, 500, 1000, 1499} {
		s := est.SpeedFromInterval(time.Duration(ms) * time.Millisecond)
		assert.Less(t, s, prev, "interval %dms", ms)
		prev = s
	}
}

func TestSpeedFromInterval_NonPositive(t *testing.T) {
	est := newSpeedEstimator(2.1, 1)
	assert.Zero(t, est.SpeedFromInterval(0))
	assert.Zero(t, est.SpeedFromInterval(-time.Second))
}

func TestIntervalForSpeed_RoundTrip(t *testing.T) {
	est := newSpeedEstimator(2.1, 4)

	for _, speed := range []float32{3, 12.5, 25, 75.6, 99.9} {
		d, ok := est.IntervalForSpeed(speed)
		require.True(t, ok, "speed %v", speed)
		assert.InDelta(t, speed, est.SpeedFromInterval(d), 0.01)
	}
}

func TestIntervalForSpeed_Unrepresentable(t *testing.T) {
	est := newSpeedEstimator(2.1, 1)

	_, ok := est.IntervalForSpeed(0)
	assert.False(t, ok)
	_, ok = est.IntervalForSpeed(-10)
	assert.False(t, ok)
}

func TestQuality_DecaysOnNoiseAndRecovers(t *testing.T) {
	est := newSpeedEstimator(2.1, 1)

	// Steady riding: quality stays high.
	for i := 0; i < FilterWindowSize; i++ {
		est.Observe(100 * time.Millisecond)
	}
	require.GreaterOrEqual(t, est.Quality(), uint32(90))

	// Noisy intervals drag the score down.
	noisy := []time.Duration{40, 220, 60, 180, 30, 250, 50, 200}
	for _, ms := range noisy {
		est.Observe(ms * time.Millisecond)
	}
	degraded := est.Quality()
	assert.Less(t, degraded, uint32(90))

	// Consistency returning recovers the score.
	for i := 0; i < 4*FilterWindowSize; i++ {
		est.Observe(100 * time.Millisecond)
	}
	assert.Greater(t, est.Quality(), degraded)
}

func TestValid_BelowFloor(t *testing.T) {
	est := newSpeedEstimator(2.1, 1)
	assert.False(t, est.Valid(), "no observations yet")

	est.Observe(100 * time.Millisecond)
	assert.True(t, est.Valid())

	est.quality = qualityFloor - 1
	assert.False(t, est.Valid())
}

func TestEstimator_Reset(t *testing.T) {
	est := newSpeedEstimator(2.1, 1)
	est.Observe(50 * time.Millisecond)
	est.Observe(300 * time.Millisecond)

	est.Reset()
	assert.Zero(t, est.AverageFrequency())
	assert.Equal(t, uint32(100), est.Quality())
	assert.False(t, est.Valid())
}

func TestSetGeometry_Recalibrates(t *testing.T) {
	est := newSpeedEstimator(2.1, 1)
	base := est.SpeedFromInterval(100 * time.Millisecond)

	est.SetGeometry(2.1, 2)
	assert.InDelta(t, base/2, est.SpeedFromInterval(100*time.Millisecond), 0.001)
}

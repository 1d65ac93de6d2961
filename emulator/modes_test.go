package emulator

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestDisabledMode_Identity(t *testing.T) {
	p := DefaultParams()
	pi := policyInputs{Ceiling: 25, Divider: 1.5}

	for _, v := range []float32{0, 0.1, 5, 25, 25.01, 50, 99.9, 500} {
		assert.Equal(t, v, modeTransform(ModeDisabled, v, p, pi), "input %v", v)
	}
}

func TestEcoMode_NeverExceedsCeilingPlusMargin(t *testing.T) {
	p := DefaultParams()
	ceiling := float32(25)
	bound := ceiling * (1 + ecoMargin)

	for v := float32(0); v <= 120; v += 0.5 {
		out := modeTransform(ModeEco, v, p, policyInputs{Ceiling: ceiling})
		assert.LessOrEqual(t, out, bound, "input %v", v)
	}
}

func TestEcoMode_IdentityBelowKnee(t *testing.T) {
	p := DefaultParams()
	ceiling := float32(25)

	for _, v := range []float32{0, 5, 10, 20, ceiling * ecoKneeRatio} {
		assert.Equal(t, v, modeTransform(ModeEco, v, p, policyInputs{Ceiling: ceiling}))
	}
}

func TestEcoMode_Monotone(t *testing.T) {
	p := DefaultParams()
	prev := float32(-1)
	for v := float32(0); v <= 80; v += 0.25 {
		out := modeTransform(ModeEco, v, p, policyInputs{Ceiling: 25})
		assert.GreaterOrEqual(t, out, prev, "input %v", v)
		prev = out
	}
}

func TestSportMode_Bounds(t *testing.T) {
	p := DefaultParams()
	ceiling := float32(25)

	// Linear up to the ceiling.
	assert.Equal(t, float32(20), modeTransform(ModeSport, 20, p, policyInputs{Ceiling: ceiling}))

	// Compressed above, never beyond the sport bound.
	for _, v := range []float32{26, 30, 45, 90, 300} {
		out := modeTransform(ModeSport, v, p, policyInputs{Ceiling: ceiling})
		assert.Greater(t, out, ceiling*0.99)
		assert.LessOrEqual(t, out, ceiling*sportBoundRatio, "input %v", v)
	}
}

func TestUnlimitedMode_DividerAndHardwareMax(t *testing.T) {
	p := DefaultParams()

	out := modeTransform(ModeUnlimited, 50, p, policyInputs{Ceiling: 25, Divider: 2})
	assert.InDelta(t, 25, out, 0.001)

	// Only the hardware range bounds the result.
	out = modeTransform(ModeUnlimited, 500, p, policyInputs{Ceiling: 25, Divider: 1})
	assert.Equal(t, HardwareMaxSpeed, out)
}

func TestStealthMode_SlewLimited(t *testing.T) {
	p := DefaultParams()
	pi := policyInputs{Ceiling: 25, Divider: 1.6}

	// Synthetic sequence with harsh steps and scrutiny changes.
	inputs := []float32{0, 10, 40, 5, 60, 60, 2, 90, 0, 35}
	scrutiny := []float32{0, 1, 0.5, 0, 1, 0, 0.2, 0.9, 0, 1}

	prev := float32(0)
	for i, in := range inputs {
		pi.PrevOut = prev
		pi.Scrutiny = scrutiny[i]
		out := modeTransform(ModeStealth, in, p, pi)
		assert.LessOrEqual(t, math32.Abs(out-prev), p.SlewLimit+1e-4,
			"step %d: %v -> %v", i, prev, out)
		prev = out
	}
}

func TestStealthMode_HighScrutinyTracksStock(t *testing.T) {
	p := DefaultParams()
	p.SlewLimit = 1000 // isolate the blend from the slew limiter

	in := float32(40)
	stock := modeTransform(ModeStealth, in, p, policyInputs{Ceiling: 25, Divider: 2, Scrutiny: 1, PrevOut: in})
	wide := modeTransform(ModeStealth, in, p, policyInputs{Ceiling: 25, Divider: 2, Scrutiny: 0, PrevOut: in})

	assert.InDelta(t, in, stock, 0.001, "high scrutiny should look stock")
	assert.InDelta(t, in/2, wide, 0.001, "low scrutiny should widen")
}

func TestClampSpeed(t *testing.T) {
	assert.Equal(t, float32(0), clampSpeed(-5, 25))
	assert.Equal(t, float32(0), clampSpeed(math32.NaN(), 25))
	assert.Equal(t, float32(25), clampSpeed(30, 25))
	assert.Equal(t, float32(10), clampSpeed(10, 25))
}

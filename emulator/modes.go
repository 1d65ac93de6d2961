package emulator

import "github.com/chewxy/math32"

const (
	// ecoMargin is the small allowance above the ceiling the eco knee
	// may asymptotically reach.
	ecoMargin float32 = 0.05
	// ecoKneeRatio is where the eco curve starts compressing.
	ecoKneeRatio float32 = 0.9
	// sportBoundRatio bounds the sport transform relative to the
	// ceiling.
	sportBoundRatio float32 = 1.25
	// sportGain compresses gains above the ceiling in sport mode.
	sportGain float32 = 0.5
)

// policyInputs is the context a mode transform needs beyond the input
// speed itself.
type policyInputs struct {
	Ceiling  float32 // effective assist ceiling, km/h
	Divider  float32 // current frequency divider
	Scrutiny float32 // 0 = bus quiet, 1 = controller watching closely
	PrevOut  float32 // last emitted sample, for slew limiting
}

// modeTransform maps the measured speed to the speed presented to the
// controller. Pure: all state comes in through the arguments.
func modeTransform(mode OperatingMode, in float32, p ProcessingParams, pi policyInputs) float32 {
	switch mode {
	case ModeDisabled:
		return in
	case ModeEco:
		return ecoTransform(in, pi.Ceiling)
	case ModeSport:
		return sportTransform(in, pi.Ceiling)
	case ModeUnlimited:
		return unlimitedTransform(in, pi.Divider)
	case ModeStealth:
		return stealthTransform(in, p, pi)
	default:
		return in
	}
}

// ecoTransform is identity below the knee and compresses above it with
// a rational soft knee that never exceeds ceiling plus the margin.
func ecoTransform(in, ceiling float32) float32 {
	knee := ceiling * ecoKneeRatio
	if in <= knee {
		return clampSpeed(in, ceiling)
	}
	span := ceiling*(1+ecoMargin) - knee
	over := in - knee
	return knee + span*over/(over+span)
}

// sportTransform tracks the input up to the ceiling and then follows
// acceleration with a reduced slope, bounded at sportBoundRatio.
func sportTransform(in, ceiling float32) float32 {
	if in <= ceiling {
		return in
	}
	out := ceiling + (in-ceiling)*sportGain
	return clampSpeed(out, ceiling*sportBoundRatio)
}

// unlimitedTransform removes the assist ceiling; the divider scales the
// reported speed down and only the hardware range bounds the result.
func unlimitedTransform(in, divider float32) float32 {
	if divider <= 0 {
		divider = 1
	}
	return clampSpeed(in/divider, HardwareMaxSpeed)
}

// stealthTransform blends the stock response with the widened one:
// under high scrutiny the output stays near stock, otherwise the
// transform widens. The sample-to-sample jump never exceeds the slew
// limit, so a passive observer sees no discontinuity.
func stealthTransform(in float32, p ProcessingParams, pi policyInputs) float32 {
	stock := clampSpeed(in, HardwareMaxSpeed)
	wide := unlimitedTransform(in, pi.Divider)

	w := 1 - clamp01(pi.Scrutiny)
	target := stock*(1-w) + wide*w

	if p.SlewLimit > 0 {
		step := target - pi.PrevOut
		if math32.Abs(step) > p.SlewLimit {
			if step > 0 {
				step = p.SlewLimit
			} else {
				step = -p.SlewLimit
			}
		}
		target = pi.PrevOut + step
	}
	return clampSpeed(target, HardwareMaxSpeed)
}

func clampSpeed(v, max float32) float32 {
	if v < 0 || math32.IsNaN(v) {
		return 0
	}
	return math32.Min(v, max)
}

func clamp01(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}

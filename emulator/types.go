package emulator

import "time"

const (
	// SignalBufferSize is the capacity of the pulse timestamp ring.
	SignalBufferSize = 128
	// FilterWindowSize is the capacity of the filtered sample window.
	FilterWindowSize = 8

	// HardwareMaxSpeed is the highest representable road speed.
	HardwareMaxSpeed float32 = 99.9 // km/h

	// MinPulseInterval is the bounce floor: edges arriving closer
	// together than this are contact noise, not wheel motion.
	MinPulseInterval = 2 * time.Millisecond

	// DefaultCyclePeriod is the emulation task period.
	DefaultCyclePeriod = 5 * time.Millisecond

	// outputPulseWidth is the high time of a regenerated edge.
	outputPulseWidth = time.Millisecond
)

// OperatingMode selects the speed transform policy.
type OperatingMode int

const (
	ModeDisabled OperatingMode = iota
	ModeEco
	ModeSport
	ModeUnlimited
	ModeStealth
)

func (m OperatingMode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeEco:
		return "eco"
	case ModeSport:
		return "sport"
	case ModeUnlimited:
		return "unlimited"
	case ModeStealth:
		return "stealth"
	default:
		return "unknown"
	}
}

// PerformanceMode is a ceiling the safety monitor may impose regardless
// of the operating mode.
type PerformanceMode int

const (
	PerformanceNormal PerformanceMode = iota
	PerformanceReduced
	PerformanceMaximum
)

func (m PerformanceMode) String() string {
	switch m {
	case PerformanceReduced:
		return "reduced"
	case PerformanceMaximum:
		return "maximum"
	default:
		return "normal"
	}
}

// SensorConfig is the static wiring of the emulated sensor. Immutable
// after Begin.
type SensorConfig struct {
	InputPin            int
	OutputPin           int
	PulsesPerRevolution int
	WheelCircumference  float32 // meters
	MaxSpeedLimit       float32 // km/h, configured assist ceiling
	DefaultMode         OperatingMode
	EnableSmoothing     bool
	EnableAntiAlias     bool
}

// ProcessingParams is the mutable tuning state, mutated only by the
// pipeline while it holds the emulator lock.
type ProcessingParams struct {
	FrequencyDivider   float32       // output timing = input timing x divider
	SmoothingFactor    int           // moving average span, samples
	AntiAliasThreshold float32       // km/h deviation treated as noise
	SignalTimeout      time.Duration // silence before the signal is invalid
	AdaptiveProcessing bool

	SlewLimit       float32 // km/h per sample, stealth jump bound
	AdaptiveGain    float32 // proportional correction gain
	AdaptiveMaxStep float32 // divider change bound per update
}

// DefaultParams are the power-on processing parameters.
func DefaultParams() ProcessingParams {
	return ProcessingParams{
		FrequencyDivider:   1.0,
		SmoothingFactor:    4,
		AntiAliasThreshold: 10.0,
		SignalTimeout:      1500 * time.Millisecond,
		AdaptiveProcessing: true,
		SlewLimit:          2.0,
		AdaptiveGain:       0.05,
		AdaptiveMaxStep:    0.02,
	}
}

// SignalStats accumulates pulse counters and derived signal health.
// Counters only grow until a calibration reset.
type SignalStats struct {
	TotalPulses      uint32
	ValidPulses      uint32
	DroppedPulses    uint32
	AverageFrequency float32 // Hz
	CurrentSpeed     float32 // km/h, output side
	MaxSpeed         float32 // km/h
	LastPulseTime    time.Time
	SignalQuality    uint32 // 0..100
}

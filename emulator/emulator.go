package emulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"
)

// adaptEveryCycles spaces adaptive divider corrections so the loop
// settles between steps.
const adaptEveryCycles = 20

// SensorEmulator owns the full signal path from captured sensor edges
// to regenerated output pulses. One instance per sensor line; all state
// is guarded by a single mutex held for at most one processing cycle.
type SensorEmulator struct {
	mu     sync.RWMutex
	logger Logger

	cfg    SensorConfig
	params ProcessingParams

	input  PulseInput
	output PulseOutput
	latch  *pulseLatch
	est    *speedEstimator
	filter filterPipeline
	gen    *pulseGenerator

	mode OperatingMode
	perf PerformanceMode

	// Runtime calibration, seeded from cfg on Begin.
	speedLimit    float32
	circumference float32
	pulsesPerRev  int

	stats          SignalStats
	pulseBuffer    [SignalBufferSize]time.Time
	bufferIndex    int
	lastInputPulse time.Time
	inputInterval  time.Duration
	inputSpeed     float32
	outputSpeed    float32
	prevOut        float32

	tuningActive  bool
	stealthActive bool
	signalValid   bool
	smoothingOn   bool
	antiAliasOn   bool
	initialized   bool

	busSpeed     float32
	busConnected bool

	adaptCountdown int

	now func() time.Time
}

// New wires an emulator to its sensor lines. Processing is inert until
// Begin succeeds.
func New(cfg SensorConfig, input PulseInput, output PulseOutput, logger Logger) *SensorEmulator {
	if logger == nil {
		logger = nopLogger{}
	}
	e := &SensorEmulator{
		logger: logger,
		cfg:    cfg,
		input:  input,
		output: output,
		now:    time.Now,
	}
	e.resetLocked()
	return e
}

func validateConfig(cfg SensorConfig) error {
	if cfg.InputPin < 0 || cfg.OutputPin < 0 {
		return fmt.Errorf("emulator: invalid pins %d/%d", cfg.InputPin, cfg.OutputPin)
	}
	if cfg.InputPin == cfg.OutputPin {
		return fmt.Errorf("emulator: input and output share pin %d", cfg.InputPin)
	}
	if cfg.PulsesPerRevolution < 1 {
		return fmt.Errorf("emulator: pulses per revolution %d", cfg.PulsesPerRevolution)
	}
	if cfg.WheelCircumference <= 0 {
		return fmt.Errorf("emulator: wheel circumference %v", cfg.WheelCircumference)
	}
	if cfg.MaxSpeedLimit <= 0 {
		return fmt.Errorf("emulator: speed limit %v", cfg.MaxSpeedLimit)
	}
	if cfg.DefaultMode < ModeDisabled || cfg.DefaultMode > ModeStealth {
		return fmt.Errorf("emulator: unknown default mode %d", cfg.DefaultMode)
	}
	return nil
}

// resetLocked restores the power-on runtime state. Callers hold the
// mutex (or own the sole reference, in New).
func (e *SensorEmulator) resetLocked() {
	e.params = DefaultParams()
	e.mode = e.cfg.DefaultMode
	e.perf = PerformanceNormal
	e.speedLimit = e.cfg.MaxSpeedLimit
	e.circumference = e.cfg.WheelCircumference
	e.pulsesPerRev = e.cfg.PulsesPerRevolution
	e.smoothingOn = e.cfg.EnableSmoothing
	e.antiAliasOn = e.cfg.EnableAntiAlias
	e.tuningActive = e.cfg.DefaultMode != ModeDisabled
	e.stealthActive = e.cfg.DefaultMode == ModeStealth

	e.est = newSpeedEstimator(e.circumference, e.pulsesPerRev)
	e.filter.Reset()
	e.gen = newPulseGenerator(e.output)

	e.stats = SignalStats{SignalQuality: e.est.Quality()}
	e.pulseBuffer = [SignalBufferSize]time.Time{}
	e.bufferIndex = 0
	e.lastInputPulse = time.Time{}
	e.inputInterval = 0
	e.inputSpeed = 0
	e.outputSpeed = 0
	e.prevOut = 0
	e.signalValid = false
	e.busSpeed = 0
	e.busConnected = false
	e.adaptCountdown = adaptEveryCycles
}

// Begin validates the configuration, resets runtime state and attaches
// the input edge handler. Idempotent while initialized; a failed Begin
// leaves the emulator inert.
func (e *SensorEmulator) Begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}
	if err := validateConfig(e.cfg); err != nil {
		return err
	}

	e.resetLocked()
	e.latch = newPulseLatch()

	latch := e.latch
	if err := e.input.Attach(func(ts time.Time) { latch.put(ts) }); err != nil {
		return fmt.Errorf("emulator: attach input: %v", err)
	}

	e.initialized = true
	e.logger.Info("Sensor emulator started: mode=%s, %d pulse/rev, wheel %.2fm, limit %.1f km/h",
		e.mode, e.pulsesPerRev, e.circumference, e.speedLimit)
	return nil
}

// End detaches the input edge handler and releases runtime state.
// Idempotent; safe only from the owning task.
func (e *SensorEmulator) End() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return
	}
	// Detach before touching buffers the handler feeds.
	e.input.Detach()
	e.initialized = false
	e.latch = nil
	e.resetLocked()
	e.logger.Info("Sensor emulator stopped")
}

func (e *SensorEmulator) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Run drives the emulation task until ctx is cancelled. The ticker
// drops missed ticks, so an overlong cycle skips and catches up rather
// than queueing work.
func (e *SensorEmulator) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultCyclePeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ProcessSpeedSignal()
		}
	}
}

// ProcessSpeedSignal runs one emulation cycle: consume the latched
// pulse, refresh validity, transform, filter, adapt and emit.
func (e *SensorEmulator) ProcessSpeedSignal() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return
	}
	now := e.now()

	if ts, ok := e.latch.take(); ok {
		e.capturePulse(ts)
	}

	if e.signalValid && now.Sub(e.stats.LastPulseTime) > e.params.SignalTimeout {
		e.signalValid = false
		e.inputSpeed = 0
		e.logger.Debug("Signal timeout, treating wheel as stopped")
	}

	e.stats.SignalQuality = e.est.Quality()

	if !e.signalValid || !e.est.Valid() {
		// No safe transformation possible: suppress output.
		e.outputSpeed = 0
		e.stats.CurrentSpeed = 0
		e.gen.Tick(now, 0, false, 0)
		return
	}

	target := e.transformLocked()
	filtered := e.filter.Apply(target, e.params, e.smoothingOn, e.antiAliasOn)
	e.prevOut = filtered

	e.adaptCountdown--
	if e.adaptCountdown <= 0 {
		e.adaptCountdown = adaptEveryCycles
		if e.tuningActive && e.mode != ModeDisabled {
			reported := e.inputSpeed / e.params.FrequencyDivider
			adaptDivider(&e.params, filtered, reported)
		}
	}

	interval, outSpeed := e.outputTimingLocked(filtered)
	e.outputSpeed = outSpeed
	e.stats.CurrentSpeed = outSpeed
	if outSpeed > e.stats.MaxSpeed {
		e.stats.MaxSpeed = outSpeed
	}

	var busInterval time.Duration
	if e.stealthActive && e.busConnected && e.busSpeed > 0 {
		if d, ok := e.est.IntervalForSpeed(e.busSpeed); ok {
			busInterval = d
		}
	}

	if _, err := e.gen.Tick(now, interval, e.stealthActive, busInterval); err != nil {
		e.logger.Error("Output pulse failed: %v", err)
	}
}

// capturePulse integrates one edge timestamp from the latch.
func (e *SensorEmulator) capturePulse(ts time.Time) {
	e.stats.TotalPulses++

	if !e.lastInputPulse.IsZero() {
		d := ts.Sub(e.lastInputPulse)
		switch {
		case d < MinPulseInterval:
			// Contact bounce: keep measuring against the real pulse.
			e.stats.DroppedPulses++
			return
		case d > e.params.SignalTimeout:
			// Coasted through a gap: restart interval measurement
			// without poisoning the rolling average.
			e.signalValid = false
		default:
			e.inputInterval = d
			e.est.Observe(d)
			e.inputSpeed = e.est.SpeedFromInterval(d)
			e.stats.ValidPulses++
			e.stats.AverageFrequency = e.est.AverageFrequency()
			e.signalValid = true
		}
	}

	e.lastInputPulse = ts
	e.stats.LastPulseTime = ts
	e.pulseBuffer[e.bufferIndex] = ts
	e.bufferIndex = (e.bufferIndex + 1) % SignalBufferSize
}

func (e *SensorEmulator) transformLocked() float32 {
	if !e.tuningActive || e.mode == ModeDisabled {
		return e.inputSpeed
	}
	return modeTransform(e.mode, e.inputSpeed, e.params, policyInputs{
		Ceiling:  e.effectiveCeilingLocked(),
		Divider:  e.params.FrequencyDivider,
		Scrutiny: e.scrutinyLocked(),
		PrevOut:  e.prevOut,
	})
}

// outputTimingLocked derives the output pulse interval. With adaptive
// processing the captured timing is multiplied by the divider, which
// preserves the input's texture; otherwise the interval is synthesized
// from the filtered speed.
func (e *SensorEmulator) outputTimingLocked(filtered float32) (time.Duration, float32) {
	if e.params.AdaptiveProcessing && e.tuningActive && e.mode != ModeDisabled && e.inputInterval > 0 {
		d := time.Duration(float64(e.inputInterval) * float64(e.params.FrequencyDivider))
		return d, e.est.SpeedFromInterval(d)
	}
	d, ok := e.est.IntervalForSpeed(filtered)
	if !ok {
		return 0, 0
	}
	return d, filtered
}

func (e *SensorEmulator) effectiveCeilingLocked() float32 {
	c := math32.Min(e.speedLimit, HardwareMaxSpeed)
	if e.perf == PerformanceReduced {
		c *= 0.8
	}
	return c
}

// scrutinyLocked estimates how closely the controller is cross-checking
// the sensor line, from bus telemetry: the nearer the reported speed is
// to the assist ceiling, the closer the stealth response stays to stock.
func (e *SensorEmulator) scrutinyLocked() float32 {
	if !e.busConnected {
		return 0
	}
	c := e.effectiveCeilingLocked()
	if c <= 0 {
		return 1
	}
	return clamp01(e.busSpeed / c)
}

// ObserveBusTelemetry feeds the last known bus state into the stealth
// policy and waveform shaping. Called by the bus task glue.
func (e *SensorEmulator) ObserveBusTelemetry(speedKmh float32, connected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busSpeed = speedKmh
	e.busConnected = connected
}

// --- Mode control ---

func (e *SensorEmulator) SetOperatingMode(mode OperatingMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mode < ModeDisabled || mode > ModeStealth {
		e.logger.Warn("Ignoring unknown operating mode %d", mode)
		return
	}
	if mode == e.mode {
		return
	}
	e.logger.Info("Operating mode %s -> %s", e.mode, mode)
	e.mode = mode
	e.stealthActive = mode == ModeStealth
	e.prevOut = e.outputSpeed
}

func (e *SensorEmulator) OperatingMode() OperatingMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

func (e *SensorEmulator) SetPerformanceMode(mode PerformanceMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mode == e.perf {
		return
	}
	e.logger.Info("Performance mode %s -> %s", e.perf, mode)
	e.perf = mode
}

func (e *SensorEmulator) PerformanceMode() PerformanceMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.perf
}

// --- Tuning and stealth control ---

func (e *SensorEmulator) EnableTuning() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tuningActive {
		e.logger.Info("Tuning enabled")
	}
	e.tuningActive = true
}

// DisableTuning reverts to the identity transform. The safety monitor
// calls this on critical errors.
func (e *SensorEmulator) DisableTuning() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tuningActive {
		e.logger.Info("Tuning disabled")
	}
	e.tuningActive = false
}

func (e *SensorEmulator) TuningActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tuningActive
}

func (e *SensorEmulator) EnableStealthMode() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stealthActive = true
	e.mode = ModeStealth
	e.prevOut = e.outputSpeed
	e.logger.Info("Stealth mode enabled")
}

func (e *SensorEmulator) DisableStealthMode() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stealthActive {
		e.logger.Info("Stealth mode disabled")
	}
	e.stealthActive = false
	if e.mode == ModeStealth {
		e.mode = e.cfg.DefaultMode
	}
}

func (e *SensorEmulator) StealthActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stealthActive
}

// --- Limits and filter configuration ---

func (e *SensorEmulator) SetSpeedLimit(limitKmh float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limitKmh <= 0 || limitKmh > HardwareMaxSpeed {
		e.logger.Warn("Ignoring speed limit %.1f", limitKmh)
		return
	}
	e.speedLimit = limitKmh
}

func (e *SensorEmulator) SpeedLimit() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.speedLimit
}

func (e *SensorEmulator) SetFrequencyDivider(divider float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if divider < 1 || math32.IsNaN(divider) {
		e.logger.Warn("Ignoring frequency divider %v", divider)
		return
	}
	e.params.FrequencyDivider = divider
}

func (e *SensorEmulator) FrequencyDivider() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.FrequencyDivider
}

func (e *SensorEmulator) EnableSmoothing(enable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.smoothingOn = enable
}

func (e *SensorEmulator) SetSmoothingFactor(factor int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if factor >= 1 && factor <= FilterWindowSize {
		e.params.SmoothingFactor = factor
	}
}

func (e *SensorEmulator) EnableAntiAlias(enable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.antiAliasOn = enable
}

func (e *SensorEmulator) SetAntiAliasThreshold(threshold float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if threshold > 0 {
		e.params.AntiAliasThreshold = threshold
	}
}

func (e *SensorEmulator) EnableAdaptiveProcessing(enable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.AdaptiveProcessing = enable
}

// AdjustForGeneration biases the divider for the controller
// generation's sensor debounce window. Call once after wiring.
func (e *SensorEmulator) AdjustForGeneration(generation int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bias, ok := genDividerBias[generation]
	if !ok {
		e.logger.Warn("No divider bias for generation %d", generation)
		return
	}
	e.params.FrequencyDivider = math32.Max(1.0, e.params.FrequencyDivider*bias)
	e.logger.Debug("Divider biased for generation %d: %.3f", generation, e.params.FrequencyDivider)
}

// --- Status surface ---

func (e *SensorEmulator) Stats() SignalStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

func (e *SensorEmulator) CurrentSpeed() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outputSpeed
}

func (e *SensorEmulator) InputSpeed() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inputSpeed
}

func (e *SensorEmulator) OutputSpeed() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outputSpeed
}

func (e *SensorEmulator) SignalQuality() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.est.Quality()
}

func (e *SensorEmulator) SignalValid() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.signalValid
}

// --- Calibration ---

// CalibrateWheelCircumference adjusts the conversion geometry at
// runtime without touching the immutable SensorConfig.
func (e *SensorEmulator) CalibrateWheelCircumference(meters float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if meters <= 0 || math32.IsNaN(meters) {
		e.logger.Warn("Ignoring circumference %v", meters)
		return
	}
	e.circumference = meters
	e.est.SetGeometry(e.circumference, e.pulsesPerRev)
	e.logger.Info("Wheel circumference calibrated: %.3fm", meters)
}

func (e *SensorEmulator) CalibratePulseCount(pulsesPerRev int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pulsesPerRev < 1 {
		e.logger.Warn("Ignoring pulse count %d", pulsesPerRev)
		return
	}
	e.pulsesPerRev = pulsesPerRev
	e.est.SetGeometry(e.circumference, e.pulsesPerRev)
	e.logger.Info("Pulse count calibrated: %d/rev", pulsesPerRev)
}

// ResetCalibration restores configured geometry and zeroes accumulated
// stats and buffers.
func (e *SensorEmulator) ResetCalibration() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.circumference = e.cfg.WheelCircumference
	e.pulsesPerRev = e.cfg.PulsesPerRevolution
	e.est.SetGeometry(e.circumference, e.pulsesPerRev)
	e.est.Reset()
	e.filter.Reset()
	e.gen.Reset()
	e.stats = SignalStats{SignalQuality: e.est.Quality()}
	e.pulseBuffer = [SignalBufferSize]time.Time{}
	e.bufferIndex = 0
	e.lastInputPulse = time.Time{}
	e.inputInterval = 0
	e.inputSpeed = 0
	e.outputSpeed = 0
	e.prevOut = 0
	e.signalValid = false
	e.logger.Info("Calibration reset")
}

// --- Bench and diagnostics ---

// InjectTestSignal synthesizes one pulse at the interval matching the
// given speed, for bench validation without physical hardware.
func (e *SensorEmulator) InjectTestSignal(speedKmh float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return
	}

	d, ok := e.est.IntervalForSpeed(speedKmh)
	if !ok {
		e.signalValid = false
		e.inputSpeed = 0
		return
	}

	now := e.now()
	e.inputInterval = d
	e.est.Observe(d)
	e.inputSpeed = e.est.SpeedFromInterval(d)
	e.stats.TotalPulses++
	e.stats.ValidPulses++
	e.stats.AverageFrequency = e.est.AverageFrequency()
	e.signalValid = true
	e.lastInputPulse = now
	e.stats.LastPulseTime = now
	e.pulseBuffer[e.bufferIndex] = now
	e.bufferIndex = (e.bufferIndex + 1) % SignalBufferSize
}

// DumpSignalBuffer returns the captured pulse timestamps, oldest first.
func (e *SensorEmulator) DumpSignalBuffer() []time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]time.Time, 0, SignalBufferSize)
	idx := e.bufferIndex
	for i := 0; i < SignalBufferSize; i++ {
		ts := e.pulseBuffer[idx]
		if !ts.IsZero() {
			out = append(out, ts)
		}
		idx = (idx + 1) % SignalBufferSize
	}
	return out
}

// RunSelfTest exercises the conversion and filter math on scratch state
// and reports the first violated invariant. Live state is untouched.
func (e *SensorEmulator) RunSelfTest() error {
	e.mu.RLock()
	circumference := e.circumference
	pulsesPerRev := e.pulsesPerRev
	e.mu.RUnlock()

	est := newSpeedEstimator(circumference, pulsesPerRev)

	prev := math32.Inf(1)
	for _, ms := range []int{20, 50, 100, 200, 500, 1000} {
		interval := time.Duration(ms) * time.Millisecond
		speed := est.SpeedFromInterval(interval)
		if speed <= 0 || speed >= prev {
			return fmt.Errorf("self-test: conversion not monotone at %v", interval)
		}
		back, ok := est.IntervalForSpeed(speed)
		if !ok || math32.Abs(float32(back-interval)/float32(interval)) > 0.01 {
			return fmt.Errorf("self-test: round trip drift at %v", interval)
		}
		prev = speed
	}

	p := DefaultParams()
	for _, v := range []float32{0, 5.5, 25, 80} {
		if modeTransform(ModeDisabled, v, p, policyInputs{Ceiling: 25}) != v {
			return fmt.Errorf("self-test: disabled mode not identity at %v", v)
		}
	}

	var f filterPipeline
	for i := 0; i < 4; i++ {
		f.Apply(20, p, false, true)
	}
	if out := f.Apply(60, p, false, true); out > 25 {
		return fmt.Errorf("self-test: anti-alias passed outlier (%v)", out)
	}

	e.logger.Info("Self-test passed")
	return nil
}

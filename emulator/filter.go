package emulator

import "github.com/chewxy/math32"

// filterPipeline holds the window of recently accepted speed samples.
// Anti-alias rejection runs before a sample enters the window, so an
// outlier never pollutes the baseline the next sample is judged by.
type filterPipeline struct {
	window [FilterWindowSize]float32
	head   int
	count  int

	lastAccepted float32
}

// Apply runs one sample through anti-alias rejection and smoothing and
// returns the filtered value.
func (f *filterPipeline) Apply(v float32, p ProcessingParams, smoothing, antiAlias bool) float32 {
	if antiAlias && f.count >= 2 && p.AntiAliasThreshold > 0 {
		if math32.Abs(v-f.mean(f.count)) > p.AntiAliasThreshold {
			// Transient electrical noise: hold the previous value.
			v = f.lastAccepted
		}
	}

	f.window[f.head] = v
	f.head = (f.head + 1) % FilterWindowSize
	if f.count < FilterWindowSize {
		f.count++
	}
	f.lastAccepted = v

	if smoothing && p.SmoothingFactor > 1 {
		n := p.SmoothingFactor
		if n > f.count {
			n = f.count
		}
		return f.meanLast(n)
	}
	return v
}

// mean averages the n oldest-to-newest samples currently held.
func (f *filterPipeline) mean(n int) float32 {
	if n > f.count {
		n = f.count
	}
	if n == 0 {
		return 0
	}
	return f.sumLast(n) / float32(n)
}

// meanLast averages the n most recent samples.
func (f *filterPipeline) meanLast(n int) float32 {
	if n == 0 {
		return 0
	}
	return f.sumLast(n) / float32(n)
}

func (f *filterPipeline) sumLast(n int) float32 {
	var sum float32
	idx := f.head
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = FilterWindowSize - 1
		}
		sum += f.window[idx]
	}
	return sum
}

// Reset clears the window.
func (f *filterPipeline) Reset() {
	f.head = 0
	f.count = 0
	f.lastAccepted = 0
	for i := range f.window {
		f.window[i] = 0
	}
}

// adaptDivider applies one bounded proportional correction to the
// frequency divider so the reported speed trend converges on the
// policy target without oscillation. With output timing = input timing
// x divider, the reported speed is measured/divider: a reported speed
// above target grows the divider, below target shrinks it.
func adaptDivider(p *ProcessingParams, target, reported float32) {
	if !p.AdaptiveProcessing || target <= 0 || reported <= 0 {
		return
	}

	step := p.AdaptiveGain * (reported - target) / target
	step = math32.Max(-p.AdaptiveMaxStep, math32.Min(p.AdaptiveMaxStep, step))

	d := p.FrequencyDivider + step
	// A divider below 1 would report faster than the wheel turns.
	p.FrequencyDivider = math32.Max(1.0, math32.Min(8.0, d))
}

// genDividerBias compensates for the debounce window each controller
// generation applies when sampling the sensor line.
var genDividerBias = map[int]float32{
	1: 1.02,
	2: 1.015,
	3: 1.01,
	4: 1.0,
	5: 0.995,
}

package audio

import (
	"math"
	"sort"
)

// PreprocessOptions controls the conditioning chain applied before decoding.
type PreprocessOptions struct {
	SampleRate       int
	HighpassHz       float64
	TargetDBFS       float64
	NoiseSuppression bool
}

// RMS returns the root-mean-square amplitude, 0 for no samples.
func RMS[T int16 | float32](samples []T) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// HighPass applies a single-pole high-pass filter. A non-positive cutoff
// returns an unfiltered copy.
func HighPass(samples []float32, sampleRate int, cutoffHz float64) []float32 {
	out := make([]float32, len(samples))
	if cutoffHz <= 0 || len(samples) == 0 {
		copy(out, samples)
		return out
	}
	dt := 1.0 / float64(sampleRate)
	rc := 1.0 / (2.0 * math.Pi * cutoffHz)
	alpha := rc / (rc + dt)

	// y[i] depends on y[i-1]; keep it a plain scalar loop.
	prevX := float64(samples[0])
	prevY := 0.0
	for i, s := range samples {
		x := float64(s)
		y := alpha * (prevY + x - prevX)
		out[i] = float32(y)
		prevY = y
		prevX = x
	}
	return out
}

// NoiseGate zeroes samples under a floor estimated from the first 250ms.
func NoiseGate(samples []float32, sampleRate int) []float32 {
	out := make([]float32, len(samples))
	copy(out, samples)
	if len(out) == 0 {
		return out
	}
	headLen := max(int(0.25*float64(sampleRate)), 1)
	headLen = min(headLen, len(out))
	head := make([]float64, headLen)
	for i := range head {
		head[i] = math.Abs(float64(out[i]))
	}
	threshold := math.Max(40, Percentile(head, 70)*1.5)
	for i, s := range out {
		if math.Abs(float64(s)) < threshold {
			out[i] = 0
		}
	}
	return out
}

// NormalizeToTarget scales the signal so its RMS sits at targetDBFS.
// Near-silent input is returned unchanged.
func NormalizeToTarget(samples []float32, targetDBFS float64) []float32 {
	out := make([]float32, len(samples))
	copy(out, samples)
	rms := RMS(out)
	if rms < 1e-6 {
		return out
	}
	current := DBFS(rms)
	gain := math.Pow(10, (targetDBFS-current)/20)
	for i, s := range out {
		out[i] = float32(float64(s) * gain)
	}
	return out
}

// Preprocess runs highpass -> noise gate (optional) -> normalize over raw
// 16-bit PCM. Gating needs the filtered signal and normalization must see
// the final waveform, so the order is fixed.
func Preprocess(pcm []byte, opts PreprocessOptions) ([]byte, error) {
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return nil, err
	}
	processed := HighPass(toFloat(samples), opts.SampleRate, opts.HighpassHz)
	if opts.NoiseSuppression {
		processed = NoiseGate(processed, opts.SampleRate)
	}
	processed = NormalizeToTarget(processed, opts.TargetDBFS)
	return EncodePCM16(processed), nil
}

// Percentile returns the p-th percentile (0-100) using linear interpolation
// between closest ranks.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	p = math.Max(0, math.Min(100, p))
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// DBFS converts an RMS amplitude to decibels relative to full scale.
func DBFS(rms float64) float64 {
	return 20 * math.Log10(rms/FullScale)
}

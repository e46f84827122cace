package analyzer

import "math"

const rolloffFraction = 0.85

// binHz is the center frequency of bin i when n bins span 0..Nyquist.
func binHz(i, n int, sampleRate float64) float64 {
	return float64(i) * (sampleRate / 2) / float64(n)
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		v := finite(float64(s))
		sum += v * v
	}
	return clamp(math.Sqrt(sum/float64(len(samples))), 0, 1)
}

func zeroCrossingRate(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	prev := finite(float64(samples[0])) >= 0
	for _, s := range samples[1:] {
		cur := finite(float64(s)) >= 0
		if cur != prev {
			crossings++
		}
		prev = cur
	}
	return float64(crossings) / float64(len(samples)-1)
}

func centroid(mags []float64, sampleRate float64) float64 {
	var weighted, total float64
	for i, m := range mags {
		weighted += binHz(i, len(mags), sampleRate) * m
		total += m
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// rolloff is the lowest frequency below which 85% of the spectral energy
// lies. Silence rolls off at 0.
func rolloff(mags []float64, sampleRate float64) float64 {
	total := 0.0
	for _, m := range mags {
		total += m * m
	}
	if total == 0 {
		return 0
	}
	target := total * rolloffFraction
	cum := 0.0
	for i, m := range mags {
		cum += m * m
		if cum >= target {
			return binHz(i, len(mags), sampleRate)
		}
	}
	return sampleRate / 2
}

// flux is the half-wave rectified difference against prev.
func flux(mags, prev []float64) float64 {
	if len(prev) != len(mags) {
		return 0
	}
	sum := 0.0
	for i, m := range mags {
		if d := m - prev[i]; d > 0 {
			sum += d
		}
	}
	return sum
}

// flatness is the ratio of geometric to arithmetic mean power.
func flatness(mags []float64) float64 {
	const eps = 1e-12
	if len(mags) == 0 {
		return 0
	}
	var logSum, sum float64
	for _, m := range mags {
		p := m * m
		logSum += math.Log(p + eps)
		sum += p
	}
	mean := sum / float64(len(mags))
	if mean < eps {
		return 0
	}
	return clamp(math.Exp(logSum/float64(len(mags)))/mean, 0, 1)
}

func spectralEnergy(mags []float64) float64 {
	if len(mags) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range mags {
		sum += m * m
	}
	return math.Sqrt(sum / float64(len(mags)))
}

// loudness maps RMS onto [0,1] over a 60 dB range.
func loudness(rms float64) float64 {
	if rms <= 0 {
		return 0
	}
	return math.Max(0, (20*math.Log10(rms)+60)/60)
}

func bandEnergy(mags []float64, sampleRate, minHz, maxHz float64) float64 {
	if minHz >= maxHz || len(mags) == 0 {
		return 0
	}
	resolution := sampleRate / 2 / float64(len(mags))
	lo := int(math.Floor(minHz / resolution))
	hi := int(math.Ceil(maxHz/resolution)) + 1
	if hi > len(mags) {
		hi = len(mags)
	}
	if lo >= hi {
		return 0
	}
	sum := 0.0
	for _, v := range mags[lo:hi] {
		sum += v
	}
	return math.Min(1, sum/float64(hi-lo))
}

func envelope(current, input, attack, release float64) float64 {
	if input > current {
		return current*attack + input*(1-attack)
	}
	return current * release
}

func dynamics(value, peak float64) float64 {
	if peak < 0.01 {
		return value
	}
	ratio := value / peak
	if ratio < 0 {
		ratio = 0
	}
	expanded := math.Pow(ratio, 0.7) * peak
	if ratio > 0.85 {
		expanded *= 1.0 + (ratio-0.85)*2.0
	}
	if expanded > 1.0 {
		return 1.0
	}
	return expanded
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

package analyzer

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

var pitchNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Krumhansl-Kessler key profiles, tonic first.
var (
	majorProfile = []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = []float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// chroma folds magnitudes in [minHz, maxHz] into 12 pitch classes and
// normalizes them to sum to 1. Index 0 is C. All zero without in-range energy.
func chroma(mags []float64, sampleRate, minHz, maxHz float64) [12]float64 {
	var fromA [12]float64
	total := 0.0
	for i, m := range mags {
		if m <= 0 {
			continue
		}
		f := binHz(i, len(mags), sampleRate)
		if f < minHz || f > maxHz {
			continue
		}
		pc := int(math.Round(12*math.Log2(f/440))) % 12
		if pc < 0 {
			pc += 12
		}
		fromA[pc] += m
		total += m
	}

	var out [12]float64
	if total == 0 {
		return out
	}
	// A is three semitones below C
	for c := range out {
		out[c] = fromA[(c+3)%12] / total
	}
	return out
}

// detectKey correlates the chroma vector with every rotation of the major
// and minor profiles. It returns the best correlation and its key name.
func detectKey(c [12]float64) (string, float64) {
	sum := 0.0
	for _, v := range c {
		sum += v
	}
	if sum == 0 {
		return KeyUnknown, 0
	}

	x := c[:]
	rotated := make([]float64, 12)
	best, bestKey := math.Inf(-1), KeyUnknown
	for tonic := 0; tonic < 12; tonic++ {
		for _, mode := range []struct {
			name    string
			profile []float64
		}{{"major", majorProfile}, {"minor", minorProfile}} {
			for pc := range rotated {
				rotated[pc] = mode.profile[(pc-tonic+12)%12]
			}
			r := stat.Correlation(x, rotated, nil)
			if math.IsNaN(r) {
				continue
			}
			if r > best {
				best = r
				bestKey = pitchNames[tonic] + " " + mode.name
			}
		}
	}
	if math.IsInf(best, -1) {
		return KeyUnknown, 0
	}
	return bestKey, best
}

func harmonicity(flat, keyCorr float64, hasChroma bool) float64 {
	if !hasChroma {
		return 0
	}
	return clamp(0.5*(1-flat)+0.5*math.Max(0, keyCorr), 0, 1)
}

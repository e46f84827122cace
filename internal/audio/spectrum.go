package audio

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Frame is one analysis window handed to the feature extractor.
type Frame struct {
	Samples    []float32
	Frequency  []float32 // Size/2 linear magnitude bins spanning 0..Nyquist
	SampleRate uint32
}

// Spectrum computes Hann-windowed magnitude spectra of a fixed size.
type Spectrum struct {
	size   int
	buffer []complex128
	window []float64
}

// NewSpectrum prepares an analyzer for windows of size samples, rounded up
// to a power of two and at least 256.
func NewSpectrum(size int) *Spectrum {
	size = nextPow2(size)
	if size < 256 {
		size = 256
	}
	s := &Spectrum{
		size:   size,
		buffer: make([]complex128, size),
		window: make([]float64, size),
	}
	for i := range s.window {
		s.window[i] = hann(float64(i), float64(size))
	}
	return s
}

// Size is the FFT length.
func (s *Spectrum) Size() int { return s.size }

// Magnitudes returns Size/2 bins, scaled so a full-scale sine peaks near 1.
// Shorter input is zero padded; longer input uses its newest samples.
func (s *Spectrum) Magnitudes(samples []float32) []float32 {
	if len(samples) > s.size {
		samples = samples[len(samples)-s.size:]
	}
	for i := range s.buffer {
		if i < len(samples) {
			s.buffer[i] = complex(float64(samples[i])*s.window[i], 0)
			continue
		}
		s.buffer[i] = 0
	}

	out := fft.FFT(s.buffer)
	// single-sided spectrum, Hann coherent gain 0.5
	scale := 4.0 / float64(s.size)
	mags := make([]float32, s.size/2)
	for i := range mags {
		m := cmplx.Abs(out[i]) * scale
		if math.IsNaN(m) || math.IsInf(m, 0) {
			m = 0
		}
		mags[i] = float32(m)
	}
	return mags
}

// Frame builds an analysis frame from the newest window of a source.
func (s *Spectrum) Frame(samples []float32, sampleRate float64) Frame {
	return Frame{
		Samples:    samples,
		Frequency:  s.Magnitudes(samples),
		SampleRate: uint32(math.Round(sampleRate)),
	}
}

// Reduce folds magnitude bins into len(dst) log-spaced bands (peak per band),
// which is how the particle engine samples the spectrum.
func Reduce(freq []float32, dst []float32) {
	clear(dst)
	if len(freq) < 2 || len(dst) == 0 {
		return
	}
	n := float64(len(freq) - 1)
	for band := range dst {
		lo := int(math.Pow(n, float64(band)/float64(len(dst))))
		hi := int(math.Pow(n, float64(band+1)/float64(len(dst))))
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(freq) {
			hi = len(freq)
		}
		peak := float32(0)
		for _, m := range freq[lo:hi] {
			if m > peak {
				peak = m
			}
		}
		dst[band] = peak
	}
}

func hann(i, size float64) float64 {
	return 0.5 * (1.0 - math.Cos(2.0*math.Pi*i/size))
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

package audio

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Synth is a Source that generates a click track over three drifting tones.
// It stands in for a microphone when audio is disabled or unavailable.
type Synth struct {
	sampleRate float64
	window     int
	bpm        float64
	now        func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	start     time.Time
	generated int64
	phaseBass float64
	phaseMid  float64
	phaseHigh float64
	ring      []float32
	index     int
}

// SynthConfig configures a Synth. Zero values pick 48 kHz, a 2048-sample
// window and 120 BPM.
type SynthConfig struct {
	SampleRate float64
	Window     int
	BPM        float64
	Seed       int64
	Now        func() time.Time
}

// NewSynth creates a synthetic source.
func NewSynth(cfg SynthConfig) *Synth {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultBufferSize
	}
	if cfg.BPM <= 0 {
		cfg.BPM = 120
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Synth{
		sampleRate: cfg.SampleRate,
		window:     cfg.Window,
		bpm:        cfg.BPM,
		now:        cfg.Now,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		start:      cfg.Now(),
		ring:       make([]float32, cfg.Window),
	}
}

// SampleRate returns the synthetic sample rate.
func (s *Synth) SampleRate() float64 { return s.sampleRate }

// Close is a no-op.
func (s *Synth) Close() error { return nil }

// Samples advances the generator to the current clock and returns the newest
// window, oldest sample first.
func (s *Synth) Samples() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := int64(s.now().Sub(s.start).Seconds() * s.sampleRate)
	pending := target - s.generated
	if pending > int64(s.window) {
		// skip ahead, only the newest window is observable
		s.generated = target - int64(s.window)
		pending = int64(s.window)
	}
	for ; pending > 0; pending-- {
		s.ring[s.index] = s.next()
		s.index = (s.index + 1) % len(s.ring)
		s.generated++
	}

	out := make([]float32, len(s.ring))
	n := copy(out, s.ring[s.index:])
	copy(out[n:], s.ring[:s.index])
	return out
}

func (s *Synth) next() float32 {
	dt := 1 / s.sampleRate
	t := float64(s.generated) * dt

	// slow amplitude drift per band
	bassAmp := 0.25 + 0.15*math.Sin(2*math.Pi*0.07*t)
	midAmp := 0.15 + 0.1*math.Sin(2*math.Pi*0.11*t+0.5)
	highAmp := 0.06 + 0.04*math.Sin(2*math.Pi*0.19*t+1.0)

	s.phaseBass += 2 * math.Pi * 55 * dt
	s.phaseMid += 2 * math.Pi * 440 * dt
	s.phaseHigh += 2 * math.Pi * 3520 * dt

	v := bassAmp*math.Sin(s.phaseBass) +
		midAmp*math.Sin(s.phaseMid) +
		highAmp*math.Sin(s.phaseHigh)

	// decaying noise burst on every beat
	beat := 60 / s.bpm
	sinceBeat := math.Mod(t, beat)
	if sinceBeat < 0.03 {
		v += 0.8 * math.Exp(-sinceBeat*150) * (s.rng.Float64()*2 - 1)
	}
	v += (s.rng.Float64()*2 - 1) * 0.01

	return float32(clamp(v, -1, 1))
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

package analyzer

// TempoClass buckets the tempo estimate.
type TempoClass string

const (
	TempoSlow     TempoClass = "slow"
	TempoMedium   TempoClass = "medium"
	TempoFast     TempoClass = "fast"
	TempoVeryFast TempoClass = "very-fast"
)

// ClassifyTempo maps a BPM value to its class.
func ClassifyTempo(bpm float64) TempoClass {
	switch {
	case bpm < 80:
		return TempoSlow
	case bpm < 120:
		return TempoMedium
	case bpm < 160:
		return TempoFast
	default:
		return TempoVeryFast
	}
}

// EnergyLevel buckets overall signal energy.
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

// KeyUnknown is reported when no key profile correlates strongly enough.
const KeyUnknown = "unknown"

// Features describes one analysis frame.
type Features struct {
	// time domain
	RMS              float64
	ZeroCrossingRate float64

	// frequency domain
	SpectralCentroid float64 // Hz
	SpectralRolloff  float64 // Hz
	SpectralFlux     float64
	SpectralFlatness float64

	// band envelopes in [0,1]
	Bass   float64
	Mid    float64
	Treble float64

	// rhythm
	TempoBPM        float64
	TempoConfidence float64
	TempoClass      TempoClass
	Onset           bool
	BeatStrength    float64

	// harmony; Chroma index 0 is C
	Chroma      [12]float64
	Harmonicity float64
	Key         string

	Energy      float64
	Loudness    float64
	EnergyLevel EnergyLevel
}

// GateFeatures applies a simple noise floor so weak signals are ignored.
func GateFeatures(f Features, floor float64) Features {
	if floor <= 0 {
		return f
	}
	gate := func(v float64) float64 {
		if v <= floor {
			return 0
		}
		return clamp((v-floor)/(1.0-floor), 0, 1)
	}

	f.Bass = gate(f.Bass)
	f.Mid = gate(f.Mid)
	f.Treble = gate(f.Treble)
	f.BeatStrength = gate(f.BeatStrength)
	if f.Energy <= floor {
		f.Energy = 0
	}
	if f.Bass == 0 && f.Mid == 0 && f.Treble == 0 && f.Energy == 0 {
		f.Onset = false
		f.EnergyLevel = EnergyLow
	}
	return f
}

func classifyEnergy(energy, rms float64) EnergyLevel {
	level := max(energy, rms)
	switch {
	case level < 0.05:
		return EnergyLow
	case level < 0.2:
		return EnergyMedium
	default:
		return EnergyHigh
	}
}

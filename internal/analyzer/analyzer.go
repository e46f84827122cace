package analyzer

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// minOnsetHistory is how many past frames the flux threshold needs.
const minOnsetHistory = 3

// beatDecay is the per-frame decay of BeatStrength between onsets.
const beatDecay = 0.88

// Extractor turns audio frames into Features. It keeps the spectral,
// onset and tempo state between calls and is not safe for concurrent use.
type Extractor struct {
	cfg Config
	log logrus.FieldLogger

	history *FeatureHistory
	beats   *BeatIntervals

	mags      []float64
	prevMags  []float64
	lastOnset time.Time
	beatPulse float64

	bassPeak   float64
	midPeak    float64
	treblePeak float64

	inputErrors uint64
	frames      uint64
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	cfg = cfg.withDefaults()
	return &Extractor{
		cfg:     cfg,
		log:     cfg.Log.WithField("component", "analyzer"),
		history: NewFeatureHistory(cfg.HistorySize),
		beats:   NewBeatIntervals(cfg.BeatHistorySize),
	}
}

// History exposes the frame history for inspection.
func (e *Extractor) History() *FeatureHistory { return e.history }

// Frames counts analyzed frames.
func (e *Extractor) Frames() uint64 { return e.frames }

// InputErrors counts frames rejected as malformed.
func (e *Extractor) InputErrors() uint64 { return e.inputErrors }

// Tempo returns the current tempo estimate and its confidence.
func (e *Extractor) Tempo() (bpm, confidence float64) {
	if e.beats.Len() < 4 {
		return e.cfg.DefaultBPM, 0
	}
	return e.beats.Median(), e.beats.Confidence()
}

// Extract analyzes one frame. freq holds N magnitude bins spanning
// 0..sampleRate/2 and samples the time-domain window in [-1,1]. The two
// lengths are independent. Only an empty buffer or a zero rate is malformed;
// that yields zeroed features and never panics.
func (e *Extractor) Extract(freq, samples []float32, sampleRate uint32) Features {
	now := e.cfg.Clock()
	if len(freq) == 0 || len(samples) == 0 || sampleRate == 0 {
		e.inputErrors++
		e.log.WithFields(logrus.Fields{
			"bins":        len(freq),
			"samples":     len(samples),
			"sample_rate": sampleRate,
			"errors":      e.inputErrors,
		}).Debug("malformed audio frame, emitting zeroed features")
		return e.zeroed()
	}
	e.frames++
	sr := float64(sampleRate)

	mags := e.magnitudes(freq)
	f := Features{
		RMS:              rms(samples),
		ZeroCrossingRate: zeroCrossingRate(samples),
		SpectralCentroid: centroid(mags, sr),
		SpectralRolloff:  rolloff(mags, sr),
		SpectralFlux:     flux(mags, e.prevMags),
		SpectralFlatness: flatness(mags),
		Energy:           spectralEnergy(mags),
	}
	f.Loudness = loudness(f.RMS)
	f.EnergyLevel = classifyEnergy(f.Energy, f.RMS)
	e.bands(&f, mags, sr)

	f.Onset, f.BeatStrength = e.detectOnset(f.SpectralFlux, now)
	f.TempoBPM, f.TempoConfidence = e.Tempo()
	f.TempoClass = ClassifyTempo(f.TempoBPM)

	f.Chroma = chroma(mags, sr, e.cfg.ChromaMinHz, e.cfg.ChromaMaxHz)
	key, corr := detectKey(f.Chroma)
	hasChroma := false
	for _, v := range f.Chroma {
		hasChroma = hasChroma || v > 0
	}
	if corr > e.cfg.KeyThreshold {
		f.Key = key
	} else {
		f.Key = KeyUnknown
	}
	f.Harmonicity = harmonicity(f.SpectralFlatness, corr, hasChroma)

	e.history.Push(Snapshot{Flux: f.SpectralFlux, RMS: f.RMS, Energy: f.Energy, At: now})
	e.prevMags, e.mags = mags, e.prevMags
	return f
}

// magnitudes converts bins to sanitized linear magnitudes, reusing the
// extractor's scratch slice.
func (e *Extractor) magnitudes(freq []float32) []float64 {
	if cap(e.mags) < len(freq) {
		e.mags = make([]float64, len(freq))
	}
	mags := e.mags[:len(freq)]
	for i, v := range freq {
		m := float64(v)
		if e.cfg.Scale == ScaleDecibels {
			m = math.Pow(10, m/20)
		}
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			m = 0
		}
		mags[i] = m
	}
	return mags
}

func (e *Extractor) bands(f *Features, mags []float64, sr float64) {
	bass := bandEnergy(mags, sr, 20, 250)
	mid := bandEnergy(mags, sr, 250, 2000)
	treble := bandEnergy(mags, sr, 2000, 8000)

	e.bassPeak = envelope(e.bassPeak, bass, 0.94, 0.75)
	e.midPeak = envelope(e.midPeak, mid, 0.94, 0.78)
	e.treblePeak = envelope(e.treblePeak, treble, 0.94, 0.8)

	f.Bass = dynamics(bass, e.bassPeak)
	f.Mid = dynamics(mid, e.midPeak)
	f.Treble = dynamics(treble, e.treblePeak)
}

// detectOnset compares flux against an adaptive threshold over the recent
// history and records beat intervals for accepted onsets.
func (e *Extractor) detectOnset(fl float64, now time.Time) (bool, float64) {
	e.beatPulse *= beatDecay
	if e.history.Len() < minOnsetHistory {
		return false, e.beatPulse
	}
	mean, std := e.history.FluxStats(e.cfg.OnsetWindow)
	threshold := mean + e.cfg.OnsetThreshold*std
	if fl <= threshold || fl <= e.cfg.MinFlux {
		return false, e.beatPulse
	}
	if !e.lastOnset.IsZero() {
		interval := now.Sub(e.lastOnset)
		if interval < e.cfg.Refractory {
			return false, e.beatPulse
		}
		if ms := interval.Milliseconds(); ms > 0 {
			bpm := 60000 / float64(ms)
			if bpm >= e.cfg.MinBPM && bpm <= e.cfg.MaxBPM {
				e.beats.Push(bpm)
			}
		}
	}
	e.lastOnset = now

	strength := 1.0
	if threshold > 0 {
		strength = clamp((fl-threshold)/threshold, 0.25, 1)
	}
	e.beatPulse = strength
	return true, strength
}

func (e *Extractor) zeroed() Features {
	bpm, conf := e.Tempo()
	return Features{
		TempoBPM:        bpm,
		TempoConfidence: conf,
		TempoClass:      ClassifyTempo(bpm),
		Key:             KeyUnknown,
		EnergyLevel:     EnergyLow,
	}
}

package analyzer

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Scale selects how frequency bins are interpreted.
type Scale int

const (
	// ScaleLinear bins are linear magnitudes, usually in [0,1].
	ScaleLinear Scale = iota
	// ScaleDecibels bins are dBFS values, converted with 10^(dB/20).
	ScaleDecibels
)

// Config controls Extractor behavior. Zero fields take their defaults.
type Config struct {
	Scale Scale

	HistorySize     int // feature history capacity
	BeatHistorySize int // beat interval capacity

	// onset detection
	OnsetWindow    int
	OnsetThreshold float64 // stddev multiplier
	MinFlux        float64
	Refractory     time.Duration

	// BPM values outside [MinBPM, MaxBPM] are not recorded.
	MinBPM     float64
	MaxBPM     float64
	DefaultBPM float64

	KeyThreshold float64
	ChromaMinHz  float64
	ChromaMaxHz  float64

	// Clock returns the frame timestamp. Defaults to time.Now.
	Clock func() time.Time
	Log   logrus.FieldLogger
}

// DefaultConfig returns the standard extractor settings.
func DefaultConfig() Config {
	return Config{
		Scale:           ScaleLinear,
		HistorySize:     100,
		BeatHistorySize: 16,
		OnsetWindow:     10,
		OnsetThreshold:  1.5,
		MinFlux:         0.01,
		Refractory:      100 * time.Millisecond,
		MinBPM:          30,
		MaxBPM:          300,
		DefaultBPM:      120,
		KeyThreshold:    0.6,
		ChromaMinHz:     80,
		ChromaMaxHz:     5000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.BeatHistorySize <= 0 {
		c.BeatHistorySize = def.BeatHistorySize
	}
	if c.OnsetWindow <= 0 {
		c.OnsetWindow = def.OnsetWindow
	}
	if c.OnsetThreshold <= 0 {
		c.OnsetThreshold = def.OnsetThreshold
	}
	if c.MinFlux <= 0 {
		c.MinFlux = def.MinFlux
	}
	if c.Refractory <= 0 {
		c.Refractory = def.Refractory
	}
	if c.MinBPM <= 0 {
		c.MinBPM = def.MinBPM
	}
	if c.MaxBPM <= c.MinBPM {
		c.MaxBPM = def.MaxBPM
	}
	if c.DefaultBPM <= 0 {
		c.DefaultBPM = def.DefaultBPM
	}
	if c.KeyThreshold <= 0 {
		c.KeyThreshold = def.KeyThreshold
	}
	if c.ChromaMinHz <= 0 {
		c.ChromaMinHz = def.ChromaMinHz
	}
	if c.ChromaMaxHz <= c.ChromaMinHz {
		c.ChromaMaxHz = def.ChromaMaxHz
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return c
}

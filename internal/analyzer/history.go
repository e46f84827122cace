package analyzer

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Snapshot is what the history keeps of one frame.
type Snapshot struct {
	Flux   float64
	RMS    float64
	Energy float64
	At     time.Time
}

// FeatureHistory is a fixed-capacity FIFO of frame snapshots. The oldest
// entry is overwritten once it is full.
type FeatureHistory struct {
	buf   []Snapshot
	start int
	n     int
}

// NewFeatureHistory allocates a history holding up to capacity frames.
func NewFeatureHistory(capacity int) *FeatureHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &FeatureHistory{buf: make([]Snapshot, capacity)}
}

// Push appends s, evicting the oldest snapshot when full.
func (h *FeatureHistory) Push(s Snapshot) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

func (h *FeatureHistory) Len() int { return h.n }
func (h *FeatureHistory) Cap() int { return len(h.buf) }

// Recent returns up to k of the newest snapshots, oldest first.
func (h *FeatureHistory) Recent(k int) []Snapshot {
	if k > h.n {
		k = h.n
	}
	if k <= 0 {
		return nil
	}
	out := make([]Snapshot, k)
	first := h.n - k
	for i := range out {
		out[i] = h.buf[(h.start+first+i)%len(h.buf)]
	}
	return out
}

// FluxStats returns mean and sample standard deviation of flux over the
// newest k snapshots.
func (h *FeatureHistory) FluxStats(k int) (mean, std float64) {
	recent := h.Recent(k)
	if len(recent) == 0 {
		return 0, 0
	}
	vals := make([]float64, len(recent))
	for i, s := range recent {
		vals[i] = s.Flux
	}
	if len(vals) == 1 {
		return vals[0], 0
	}
	return stat.MeanStdDev(vals, nil)
}

// BeatIntervals keeps the most recent instantaneous BPM values.
type BeatIntervals struct {
	bpm      []float64
	capacity int
}

// NewBeatIntervals allocates a buffer of up to capacity values.
func NewBeatIntervals(capacity int) *BeatIntervals {
	if capacity < 1 {
		capacity = 1
	}
	return &BeatIntervals{bpm: make([]float64, 0, capacity), capacity: capacity}
}

// Push records one BPM value.
func (b *BeatIntervals) Push(bpm float64) {
	b.bpm = append(b.bpm, bpm)
	if len(b.bpm) > b.capacity {
		copy(b.bpm, b.bpm[1:])
		b.bpm = b.bpm[:len(b.bpm)-1]
	}
}

func (b *BeatIntervals) Len() int { return len(b.bpm) }

// Median returns the median BPM, or 0 when empty.
func (b *BeatIntervals) Median() float64 {
	if len(b.bpm) == 0 {
		return 0
	}
	sorted := append([]float64(nil), b.bpm...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Confidence is 1/(1+variance/100): 1 for a perfectly steady beat, falling
// as the intervals spread.
func (b *BeatIntervals) Confidence() float64 {
	if len(b.bpm) < 2 {
		return 0
	}
	variance := stat.Variance(b.bpm, nil)
	if math.IsNaN(variance) {
		return 0
	}
	return 1 / (1 + variance/100)
}

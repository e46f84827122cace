package params

import (
	"math"
	"testing"

	"github.com/guidoenr/particlizer/internal/analyzer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFeatures() analyzer.Features {
	f := analyzer.Features{
		RMS:              0.3,
		ZeroCrossingRate: 0.1,
		SpectralCentroid: 1200,
		SpectralFlux:     6,
		SpectralFlatness: 0.2,
		TempoBPM:         128,
		TempoConfidence:  0.9,
		BeatStrength:     0.8,
		Harmonicity:      0.6,
		Energy:           0.5,
		Loudness:         0.7,
	}
	f.Chroma[0], f.Chroma[4], f.Chroma[7] = 0.5, 0.25, 0.25
	return f
}

func TestBlendEndpoints(t *testing.T) {
	a := Map(sampleFeatures())
	f := sampleFeatures()
	f.Energy, f.SpectralCentroid, f.Harmonicity, f.Onset = 0.9, 300, 0.1, true
	b := Map(f)
	require.NotEqual(t, a, b)

	assert.Equal(t, a, Blend(a, b, 0))
	assert.Equal(t, b, Blend(a, b, 1))
	assert.Equal(t, a, Blend(a, b, -3), "t below 0 clamps")
	assert.Equal(t, b, Blend(a, b, 7), "t above 1 clamps")
}

func TestBlendShapeSwitchesAtMidpoint(t *testing.T) {
	a, b := Defaults(), Defaults()
	a.Shape, b.Shape = ShapeSphere, ShapeTorus

	assert.Equal(t, ShapeSphere, Blend(a, b, 0.4).Shape)
	assert.Equal(t, ShapeSphere, Blend(a, b, 0.5).Shape)
	assert.Equal(t, ShapeTorus, Blend(a, b, 0.6).Shape)
}

func TestBlendInterpolatesNumbers(t *testing.T) {
	a, b := Defaults(), Defaults()
	a.Count, b.Count = 10_000, 20_001
	a.Speed, b.Speed = 1, 3
	a.Wind, b.Wind = Vec3{-1, 0, 0}, Vec3{1, 0, 2}

	mid := Blend(a, b, 0.5)
	assert.Equal(t, 15_001, mid.Count)
	assert.InDelta(t, 2, mid.Speed, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 1}, mid.Wind[:], 1e-12)
}

func TestMapParticleCountScalesWithEnergy(t *testing.T) {
	low, high := sampleFeatures(), sampleFeatures()
	low.Energy, high.Energy = 0.1, 0.9
	assert.Less(t, Map(low).Count, Map(high).Count)

	silent := analyzer.Features{}
	assert.Equal(t, 10_000, Map(silent).Count)
	loud := sampleFeatures()
	loud.Energy = 1
	assert.Equal(t, 100_000, Map(loud).Count)
}

func TestMapCameraImpulseOnlyOnOnset(t *testing.T) {
	f := sampleFeatures()
	f.Onset = false
	assert.Equal(t, Vec3{}, Map(f).CameraMovement)

	f.Onset = true
	f.BeatStrength = 0.8
	impulse := Map(f).CameraMovement
	assert.NotEqual(t, Vec3{}, impulse)
	length := math.Sqrt(impulse[0]*impulse[0] + impulse[1]*impulse[1] + impulse[2]*impulse[2])
	assert.InDelta(t, 0.8, length, 1e-9)

	assert.Equal(t, impulse, Map(f).CameraMovement, "map is deterministic")
}

func TestMapShapeSteps(t *testing.T) {
	cases := map[float64]Shape{
		0:    ShapeSphere,
		0.24: ShapeSphere,
		0.25: ShapeCube,
		0.49: ShapeCube,
		0.5:  ShapeTorus,
		0.74: ShapeTorus,
		0.75: ShapeCustom,
		1:    ShapeCustom,
	}
	for h, want := range cases {
		f := sampleFeatures()
		f.Harmonicity = h
		assert.Equal(t, want, Map(f).Shape, "harmonicity %v", h)
	}
}

func TestMapHueFollowsCentroid(t *testing.T) {
	low, high := sampleFeatures(), sampleFeatures()
	low.SpectralCentroid, high.SpectralCentroid = 60, 9000

	red := Map(low).Primary
	blue := Map(high).Primary
	assert.Greater(t, red[0], red[2])
	assert.Greater(t, blue[2], blue[0])
}

func TestMapOutputIsSane(t *testing.T) {
	f := sampleFeatures()
	f.SpectralFlux = math.Inf(1)
	f.Energy = math.NaN()
	p := Map(f)
	assert.Equal(t, p, p.Sanitize())
}

func TestValidShape(t *testing.T) {
	for _, s := range Shapes() {
		assert.True(t, ValidShape(s), s)
	}
	assert.False(t, ValidShape("pyramid"))
	assert.False(t, ValidShape(""))
	assert.Equal(t, ShapeSphere, Parameters{Shape: "pyramid"}.Sanitize().Shape)
}

func TestStyleTargetKeepsImpulse(t *testing.T) {
	style, err := LookupStyle("Cosmic")
	require.NoError(t, err)

	f := sampleFeatures()
	f.Onset = true
	mapped := Map(f)
	target := style.Target(mapped)
	assert.Equal(t, mapped.CameraMovement, target.CameraMovement)

	speed := 9.0
	style.Overrides.Speed = &speed
	assert.Equal(t, 9.0, style.Target(mapped).Speed)

	_, err = LookupStyle("disco")
	assert.Error(t, err)
}

func TestNextStyleCycles(t *testing.T) {
	seen := map[string]bool{}
	s := NextStyle("")
	for i := 0; i < len(StyleNames()); i++ {
		seen[s.Name] = true
		s = NextStyle(s.Name)
	}
	assert.Len(t, seen, len(StyleNames()))
}

func TestQualityCapsParticles(t *testing.T) {
	eco, err := LookupQuality("eco")
	require.NoError(t, err)
	p := Defaults()
	p.Count = 100_000
	assert.Equal(t, 25_000, eco.Apply(p).Count)

	p.Count = 1_000_000
	assert.Equal(t, eco.MaxParticles, eco.Apply(p).Count)
}

func TestSmootherConvergesToTarget(t *testing.T) {
	style, _ := LookupStyle("energetic")
	high, _ := LookupQuality("high")
	s := NewSmoother(style, high)

	quiet := Map(analyzer.Features{})
	first := s.Step(quiet, 1.0/60)
	assert.Equal(t, first, s.Current())

	loud := sampleFeatures()
	loud.Energy = 1
	mapped := Map(loud)
	want := high.Apply(style.Target(mapped))

	prev := math.Abs(float64(first.Count - want.Count))
	for i := 0; i < 10; i++ {
		got := s.Step(mapped, 1.0/60)
		diff := math.Abs(float64(got.Count - want.Count))
		assert.LessOrEqual(t, diff, prev)
		prev = diff
	}
	for i := 0; i < 600; i++ {
		s.Step(mapped, 1.0/60)
	}
	assert.InDelta(t, want.Speed, s.Current().Speed, 1e-3)
}

package particles

import (
	"encoding/binary"
	"math"
)

// uniformSize is the byte size of the per-frame uniform block. The layout
// matches the Uniforms struct in shaders/particles.wgsl.
const uniformSize = 128

// SpectrumBins is the number of audio bins the compute program samples.
const SpectrumBins = 256

// uniform word offsets
const (
	uTime = iota
	uDelta
	uCount
	uReactivity
	uEmitterX
	uEmitterY
	uEmitterZ
	uEmitterRadius
	uGravity
	uDamping
	uLifespan
	uSpeed
	uSpread
	uTurbulence
	uSize
	uIntensity
	uColorR
	uColorG
	uColorB
	uAttractor
	uWindX
	uWindY
	uWindZ
	uPulse
	uSecondaryR
	uSecondaryG
	uSecondaryB
	uShape
	uSymmetry
	uComplexity
	uMorph
	uAnimation
)

// emitter shapes as stored in the uShape word
const (
	shapeSphere = iota
	shapeCube
	shapeTorus
	shapeCustom
)

// frameUniforms is everything one dispatch needs besides the buffers.
type frameUniforms struct {
	Time            float32
	Delta           float32
	Count           uint32
	AudioReactivity float32
	EmitterPosition [3]float32
	EmitterRadius   float32
	Gravity         float32
	Damping         float32
	Lifespan        float32
	Speed           float32
	Spread          float32
	Turbulence      float32
	Size            float32
	Intensity       float32
	Color           [3]float32
	Attractor       float32
	Wind            [3]float32
	Pulse           float32
	Secondary       [3]float32
	Shape           uint32
	Symmetry        float32
	Complexity      float32
	Morph           float32
	Animation       float32
}

func (u frameUniforms) bytes() []byte {
	var words [uniformSize / 4]uint32
	f := math.Float32bits
	words[uTime] = f(u.Time)
	words[uDelta] = f(u.Delta)
	words[uCount] = u.Count
	words[uReactivity] = f(u.AudioReactivity)
	words[uEmitterX] = f(u.EmitterPosition[0])
	words[uEmitterY] = f(u.EmitterPosition[1])
	words[uEmitterZ] = f(u.EmitterPosition[2])
	words[uEmitterRadius] = f(u.EmitterRadius)
	words[uGravity] = f(u.Gravity)
	words[uDamping] = f(u.Damping)
	words[uLifespan] = f(u.Lifespan)
	words[uSpeed] = f(u.Speed)
	words[uSpread] = f(u.Spread)
	words[uTurbulence] = f(u.Turbulence)
	words[uSize] = f(u.Size)
	words[uIntensity] = f(u.Intensity)
	words[uColorR] = f(u.Color[0])
	words[uColorG] = f(u.Color[1])
	words[uColorB] = f(u.Color[2])
	words[uAttractor] = f(u.Attractor)
	for i := 0; i < 3; i++ {
		words[uWindX+i] = f(u.Wind[i])
		words[uSecondaryR+i] = f(u.Secondary[i])
	}
	words[uPulse] = f(u.Pulse)
	words[uShape] = u.Shape
	words[uSymmetry] = f(u.Symmetry)
	words[uComplexity] = f(u.Complexity)
	words[uMorph] = f(u.Morph)
	words[uAnimation] = f(u.Animation)

	out := make([]byte, uniformSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func spectrumBytes(spectrum *[SpectrumBins]float32) []byte {
	out := make([]byte, 4*SpectrumBins)
	if spectrum == nil {
		return out
	}
	for i, v := range spectrum {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) || v < 0 {
			v = 0
		}
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

package params

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/guidoenr/particlizer/internal/analyzer"
)

const (
	baseCount  = 10_000
	extraCount = 90_000

	// fluxScale is the flux treated as fully turbulent.
	fluxScale = 20.0

	centroidLowHz  = 80.0
	centroidHighHz = 8000.0
)

// Map derives visual parameters from one frame of features. It is pure:
// equal inputs always produce equal outputs.
func Map(f analyzer.Features) Parameters {
	energy := clamp01(finite(f.Energy))
	bright := centroidNorm(f.SpectralCentroid)
	fluxN := clamp01(finite(f.SpectralFlux) / fluxScale)
	beat := clamp01(finite(f.BeatStrength))
	loud := clamp01(finite(f.Loudness))
	harm := clamp01(finite(f.Harmonicity))
	bpm := finite(f.TempoBPM)
	if bpm <= 0 {
		bpm = 120
	}

	p := Parameters{
		Count:    baseCount + int(math.Round(extraCount*energy)),
		Speed:    0.5 + 1.5*energy + 0.5*beat,
		Spread:   0.8 + 1.2*clamp01(finite(f.RMS)*2),
		Size:     0.6 + 0.8*loud,
		Lifespan: 4 - 2.5*energy,

		Gravity:           0.8 * (1 - bright),
		Turbulence:        0.2 + 2*fluxN,
		AttractorStrength: 0.2 + 1.3*bright,
		Wind:              chromaWind(f.Chroma, harm),

		Intensity:      clamp(0.4+0.6*loud+0.3*beat, 0, 1.3),
		TransitionRate: 1.5 + 4.5*clamp01((bpm-60)/120),

		CameraRotation: 0.1 + 0.4*clamp01(bpm/180),
		FOV:            60 + 20*energy,

		Bloom:      0.3 + 0.7*loud,
		Glitch:     clamp01(finite(f.SpectralFlatness)) * (0.5 + 0.5*beat),
		Distortion: 0.5*fluxN + 0.3*beat,

		Shape:      shapeFor(harm),
		Complexity: 0.3 + 0.7*harm,
		Symmetry:   1 + math.Round(harm*7),

		AnimationSpeed: bpm / 120,
		Morph:          clamp01(finite(f.ZeroCrossingRate) * 4),
		Pulse:          beat,
	}

	// low centroid is red (0 deg), high is blue (240 deg)
	p.Primary = hsvToRGB(bright*240.0/360.0, 0.85, 1)
	// secondary goes from yellow (60 deg) to green (120 deg) with energy
	p.Secondary = hsvToRGB((60+60*energy)/360.0, 0.8, 0.9)

	if f.Onset {
		p.CameraMovement = cameraImpulse(f, beat)
	}
	return p
}

// shapeFor steps through the shapes at 0.25, 0.5 and 0.75 harmonicity.
func shapeFor(harmonicity float64) Shape {
	switch {
	case harmonicity < 0.25:
		return ShapeSphere
	case harmonicity < 0.5:
		return ShapeCube
	case harmonicity < 0.75:
		return ShapeTorus
	default:
		return ShapeCustom
	}
}

// centroidNorm maps a centroid onto [0,1] logarithmically over 80 Hz..8 kHz.
func centroidNorm(hz float64) float64 {
	hz = finite(hz)
	if hz <= centroidLowHz {
		return 0
	}
	return clamp01(math.Log(hz/centroidLowHz) / math.Log(centroidHighHz/centroidLowHz))
}

// chromaWind points the wind around the pitch circle, strongest for tonal
// material.
func chromaWind(chroma [12]float64, harmonicity float64) Vec3 {
	var x, z float64
	for i, v := range chroma {
		angle := 2 * math.Pi * float64(i) / 12
		x += finite(v) * math.Cos(angle)
		z += finite(v) * math.Sin(angle)
	}
	scale := 0.5 * harmonicity
	return Vec3{x * scale, 0, z * scale}
}

// cameraImpulse derives a pseudo-random unit direction from the feature
// values, so the same frame always kicks the camera the same way.
func cameraImpulse(f analyzer.Features, strength float64) Vec3 {
	var buf [8 * 6]byte
	for i, v := range []float64{f.SpectralFlux, f.SpectralCentroid, f.RMS, f.Energy, f.BeatStrength, f.ZeroCrossingRate} {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	h := xxhash.Sum64(buf[:])

	var dir Vec3
	norm := 0.0
	for i := range dir {
		component := float64((h>>(21*i))&0x1fffff)/float64(0x1fffff)*2 - 1
		dir[i] = component
		norm += component * component
	}
	norm = math.Sqrt(norm)
	if norm < 1e-6 {
		dir, norm = Vec3{0, 1, 0}, 1
	}
	for i := range dir {
		dir[i] = dir[i] / norm * strength
	}
	return dir
}

func hsvToRGB(h, s, v float64) Vec3 {
	h = clamp01(h)
	s = clamp01(s)
	v = clamp01(v)

	if s == 0 {
		return Vec3{v, v, v}
	}

	hv := h * 6.0
	i := math.Floor(hv)
	f := hv - i
	p := v * (1.0 - s)
	q := v * (1.0 - s*f)
	t := v * (1.0 - s*(1.0-f))

	switch int(i) % 6 {
	case 0:
		return Vec3{v, t, p}
	case 1:
		return Vec3{q, v, p}
	case 2:
		return Vec3{p, v, t}
	case 3:
		return Vec3{p, q, v}
	case 4:
		return Vec3{t, p, v}
	default:
		return Vec3{v, p, q}
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

package params

import "math"

// Blend interpolates every numeric field from current toward target. t is
// clamped to [0,1]; Count is rounded and Shape switches over at t > 0.5.
func Blend(current, target Parameters, t float64) Parameters {
	if math.IsNaN(t) {
		t = 0
	}
	t = clamp01(t)
	return Parameters{
		Count:    int(math.Round(lerp(float64(current.Count), float64(target.Count), t))),
		Speed:    lerp(current.Speed, target.Speed, t),
		Spread:   lerp(current.Spread, target.Spread, t),
		Size:     lerp(current.Size, target.Size, t),
		Lifespan: lerp(current.Lifespan, target.Lifespan, t),

		Gravity:           lerp(current.Gravity, target.Gravity, t),
		Turbulence:        lerp(current.Turbulence, target.Turbulence, t),
		AttractorStrength: lerp(current.AttractorStrength, target.AttractorStrength, t),
		Wind:              lerpVec(current.Wind, target.Wind, t),

		Primary:        lerpVec(current.Primary, target.Primary, t),
		Secondary:      lerpVec(current.Secondary, target.Secondary, t),
		Intensity:      lerp(current.Intensity, target.Intensity, t),
		TransitionRate: lerp(current.TransitionRate, target.TransitionRate, t),

		CameraMovement: lerpVec(current.CameraMovement, target.CameraMovement, t),
		CameraRotation: lerp(current.CameraRotation, target.CameraRotation, t),
		FOV:            lerp(current.FOV, target.FOV, t),

		Bloom:      lerp(current.Bloom, target.Bloom, t),
		Glitch:     lerp(current.Glitch, target.Glitch, t),
		Distortion: lerp(current.Distortion, target.Distortion, t),

		Shape:      blendShape(current.Shape, target.Shape, t),
		Complexity: lerp(current.Complexity, target.Complexity, t),
		Symmetry:   lerp(current.Symmetry, target.Symmetry, t),

		AnimationSpeed: lerp(current.AnimationSpeed, target.AnimationSpeed, t),
		Morph:          lerp(current.Morph, target.Morph, t),
		Pulse:          lerp(current.Pulse, target.Pulse, t),
	}
}

func blendShape(current, target Shape, t float64) Shape {
	if t > 0.5 {
		return target
	}
	return current
}

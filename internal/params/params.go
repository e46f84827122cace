package params

import "math"

// Shape is the emitter pattern category. It never interpolates.
type Shape string

const (
	ShapeSphere Shape = "sphere"
	ShapeCube   Shape = "cube"
	ShapeTorus  Shape = "torus"
	ShapeCustom Shape = "custom"
)

// Shapes lists every shape in breakpoint order.
func Shapes() []Shape {
	return []Shape{ShapeSphere, ShapeCube, ShapeTorus, ShapeCustom}
}

// Vec3 is a plain 3-component vector.
type Vec3 = [3]float64

// Parameters is the full visual state for one frame. All numeric fields are
// finite and non-negative except Wind and CameraMovement.
type Parameters struct {
	// particles
	Count    int     `json:"count" yaml:"count"`
	Speed    float64 `json:"speed" yaml:"speed"`
	Spread   float64 `json:"spread" yaml:"spread"`
	Size     float64 `json:"size" yaml:"size"`
	Lifespan float64 `json:"lifespan" yaml:"lifespan"`

	// forces
	Gravity           float64 `json:"gravity" yaml:"gravity"`
	Turbulence        float64 `json:"turbulence" yaml:"turbulence"`
	AttractorStrength float64 `json:"attractorStrength" yaml:"attractorStrength"`
	Wind              Vec3    `json:"wind" yaml:"wind"`

	// color, RGB in [0,1]
	Primary        Vec3    `json:"primary" yaml:"primary"`
	Secondary      Vec3    `json:"secondary" yaml:"secondary"`
	Intensity      float64 `json:"intensity" yaml:"intensity"`
	TransitionRate float64 `json:"transitionRate" yaml:"transitionRate"`

	// camera
	CameraMovement Vec3    `json:"cameraMovement" yaml:"cameraMovement"`
	CameraRotation float64 `json:"cameraRotation" yaml:"cameraRotation"`
	FOV            float64 `json:"fov" yaml:"fov"`

	// effects
	Bloom      float64 `json:"bloom" yaml:"bloom"`
	Glitch     float64 `json:"glitch" yaml:"glitch"`
	Distortion float64 `json:"distortion" yaml:"distortion"`

	// pattern
	Shape      Shape   `json:"shape" yaml:"shape"`
	Complexity float64 `json:"complexity" yaml:"complexity"`
	Symmetry   float64 `json:"symmetry" yaml:"symmetry"`

	// animation
	AnimationSpeed float64 `json:"animationSpeed" yaml:"animationSpeed"`
	Morph          float64 `json:"morph" yaml:"morph"`
	Pulse          float64 `json:"pulse" yaml:"pulse"`
}

// Defaults returns a calm idle state, used before any audio arrives.
func Defaults() Parameters {
	return Parameters{
		Count:             20_000,
		Speed:             0.6,
		Spread:            1.0,
		Size:              0.8,
		Lifespan:          4.0,
		Gravity:           0.3,
		Turbulence:        0.3,
		AttractorStrength: 0.4,
		Primary:           Vec3{0.25, 0.45, 1.0},
		Secondary:         Vec3{0.9, 0.85, 0.3},
		Intensity:         0.7,
		TransitionRate:    2.0,
		CameraRotation:    0.1,
		FOV:               60,
		Bloom:             0.3,
		Shape:             ShapeSphere,
		Complexity:        0.4,
		Symmetry:          1,
		AnimationSpeed:    1.0,
	}
}

// Sanitize replaces non-finite values and clamps fields that must be
// non-negative.
func (p Parameters) Sanitize() Parameters {
	nonNeg := func(v *float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
			*v = 0
		}
	}
	signed := func(v *Vec3) {
		for i := range v {
			if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
				v[i] = 0
			}
		}
	}
	if p.Count < 0 {
		p.Count = 0
	}
	for _, f := range []*float64{
		&p.Speed, &p.Spread, &p.Size, &p.Lifespan,
		&p.Gravity, &p.Turbulence, &p.AttractorStrength,
		&p.Intensity, &p.TransitionRate,
		&p.CameraRotation, &p.FOV,
		&p.Bloom, &p.Glitch, &p.Distortion,
		&p.Complexity, &p.Symmetry,
		&p.AnimationSpeed, &p.Morph, &p.Pulse,
	} {
		nonNeg(f)
	}
	for i := range p.Primary {
		nonNeg(&p.Primary[i])
		nonNeg(&p.Secondary[i])
		p.Primary[i] = clamp(p.Primary[i], 0, 1)
		p.Secondary[i] = clamp(p.Secondary[i], 0, 1)
	}
	signed(&p.Wind)
	signed(&p.CameraMovement)
	if !ValidShape(p.Shape) {
		p.Shape = ShapeSphere
	}
	return p
}

// ValidShape reports whether s is one of Shapes.
func ValidShape(s Shape) bool {
	for _, v := range Shapes() {
		if s == v {
			return true
		}
	}
	return false
}

func lerp(current, target, factor float64) float64 {
	return current*(1-factor) + target*factor
}

func lerpVec(a, b Vec3, t float64) Vec3 {
	return Vec3{lerp(a[0], b[0], t), lerp(a[1], b[1], t), lerp(a[2], b[2], t)}
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

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

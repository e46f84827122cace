package params

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Overrides pins individual fields regardless of audio. Nil fields are left
// alone.
type Overrides struct {
	Speed      *float64 `json:"speed,omitempty" yaml:"speed,omitempty"`
	Spread     *float64 `json:"spread,omitempty" yaml:"spread,omitempty"`
	Size       *float64 `json:"size,omitempty" yaml:"size,omitempty"`
	Lifespan   *float64 `json:"lifespan,omitempty" yaml:"lifespan,omitempty"`
	Gravity    *float64 `json:"gravity,omitempty" yaml:"gravity,omitempty"`
	Turbulence *float64 `json:"turbulence,omitempty" yaml:"turbulence,omitempty"`
	Intensity  *float64 `json:"intensity,omitempty" yaml:"intensity,omitempty"`
	Bloom      *float64 `json:"bloom,omitempty" yaml:"bloom,omitempty"`
	Primary    *Vec3    `json:"primary,omitempty" yaml:"primary,omitempty"`
	Secondary  *Vec3    `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	Shape      *Shape   `json:"shape,omitempty" yaml:"shape,omitempty"`
}

// Apply returns p with every set override written over it.
func (o Overrides) Apply(p Parameters) Parameters {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.Speed, o.Speed)
	set(&p.Spread, o.Spread)
	set(&p.Size, o.Size)
	set(&p.Lifespan, o.Lifespan)
	set(&p.Gravity, o.Gravity)
	set(&p.Turbulence, o.Turbulence)
	set(&p.Intensity, o.Intensity)
	set(&p.Bloom, o.Bloom)
	if o.Primary != nil {
		p.Primary = *o.Primary
	}
	if o.Secondary != nil {
		p.Secondary = *o.Secondary
	}
	if o.Shape != nil {
		p.Shape = *o.Shape
	}
	return p
}

// Merge layers other on top of o.
func (o Overrides) Merge(other Overrides) Overrides {
	pick := func(a, b *float64) *float64 {
		if b != nil {
			return b
		}
		return a
	}
	o.Speed = pick(o.Speed, other.Speed)
	o.Spread = pick(o.Spread, other.Spread)
	o.Size = pick(o.Size, other.Size)
	o.Lifespan = pick(o.Lifespan, other.Lifespan)
	o.Gravity = pick(o.Gravity, other.Gravity)
	o.Turbulence = pick(o.Turbulence, other.Turbulence)
	o.Intensity = pick(o.Intensity, other.Intensity)
	o.Bloom = pick(o.Bloom, other.Bloom)
	if other.Primary != nil {
		o.Primary = other.Primary
	}
	if other.Secondary != nil {
		o.Secondary = other.Secondary
	}
	if other.Shape != nil {
		o.Shape = other.Shape
	}
	return o
}

// Style is a named look. Reactivity weights the audio-mapped parameters
// against Base: 0 ignores the audio, 1 ignores Base.
type Style struct {
	Name       string     `json:"name" yaml:"name"`
	Reactivity float64    `json:"reactivity" yaml:"reactivity"`
	Base       Parameters `json:"base" yaml:"base"`
	Overrides  Overrides  `json:"overrides" yaml:"overrides"`
}

// Target combines the style with audio-mapped parameters. The camera impulse
// always comes from the audio.
func (s Style) Target(mapped Parameters) Parameters {
	out := Blend(s.Base, mapped, s.Reactivity)
	out.CameraMovement = mapped.CameraMovement
	return s.Overrides.Apply(out).Sanitize()
}

func calmStyle() Style {
	base := Defaults()
	base.Speed = 0.4
	base.Turbulence = 0.2
	base.Primary = Vec3{0.2, 0.4, 0.9}
	base.Secondary = Vec3{0.5, 0.8, 0.9}
	base.Bloom = 0.4
	base.TransitionRate = 1.2
	return Style{Name: "calm", Reactivity: 0.4, Base: base}
}

func energeticStyle() Style {
	base := Defaults()
	base.Count = 60_000
	base.Speed = 1.6
	base.Turbulence = 1.2
	base.Primary = Vec3{1.0, 0.35, 0.1}
	base.Secondary = Vec3{1.0, 0.9, 0.2}
	base.Intensity = 1.0
	base.TransitionRate = 5
	base.Shape = ShapeCube
	return Style{Name: "energetic", Reactivity: 0.9, Base: base}
}

func cosmicStyle() Style {
	base := Defaults()
	base.Count = 80_000
	base.Spread = 2.2
	base.Gravity = 0.05
	base.AttractorStrength = 1.0
	base.Primary = Vec3{0.6, 0.3, 1.0}
	base.Secondary = Vec3{0.2, 0.9, 0.8}
	base.Bloom = 0.9
	base.Shape = ShapeTorus
	base.Complexity = 0.8
	return Style{Name: "cosmic", Reactivity: 0.7, Base: base}
}

var builtinStyles = map[string]func() Style{
	"calm":      calmStyle,
	"energetic": energeticStyle,
	"cosmic":    cosmicStyle,
}

// StyleNames lists the built-in styles.
func StyleNames() []string {
	names := make([]string, 0, len(builtinStyles))
	for name := range builtinStyles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupStyle returns a built-in style by name.
func LookupStyle(name string) (Style, error) {
	build, ok := builtinStyles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Style{}, fmt.Errorf("unknown style %q (available: %s)", name, strings.Join(StyleNames(), ", "))
	}
	return build(), nil
}

// NextStyle cycles through the built-in styles.
func NextStyle(current string) Style {
	names := StyleNames()
	for i, name := range names {
		if name == current {
			s, _ := LookupStyle(names[(i+1)%len(names)])
			return s
		}
	}
	s, _ := LookupStyle(names[0])
	return s
}

// Quality bounds the particle budget.
type Quality struct {
	Name          string  `json:"name" yaml:"name"`
	ParticleScale float64 `json:"particleScale" yaml:"particleScale"`
	MaxParticles  int     `json:"maxParticles" yaml:"maxParticles"`
}

var qualities = []Quality{
	{Name: "high", ParticleScale: 1.0, MaxParticles: 1_000_000},
	{Name: "balanced", ParticleScale: 0.6, MaxParticles: 250_000},
	{Name: "eco", ParticleScale: 0.25, MaxParticles: 60_000},
}

// QualityNames lists the quality presets from best to cheapest.
func QualityNames() []string {
	names := make([]string, len(qualities))
	for i, q := range qualities {
		names[i] = q.Name
	}
	return names
}

// LookupQuality returns a preset by name.
func LookupQuality(name string) (Quality, error) {
	for _, q := range qualities {
		if strings.EqualFold(q.Name, strings.TrimSpace(name)) {
			return q, nil
		}
	}
	return Quality{}, fmt.Errorf("unknown quality %q (available: %s)", name, strings.Join(QualityNames(), ", "))
}

// Apply scales the particle count to the preset.
func (q Quality) Apply(p Parameters) Parameters {
	scale := q.ParticleScale
	if scale <= 0 {
		scale = 1
	}
	p.Count = int(math.Round(float64(p.Count) * scale))
	if q.MaxParticles > 0 && p.Count > q.MaxParticles {
		p.Count = q.MaxParticles
	}
	return p
}

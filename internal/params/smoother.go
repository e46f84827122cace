package params

import "math"

// Smoother eases the live parameters toward each frame's target instead of
// jumping. It is owned by the frame loop.
type Smoother struct {
	style   Style
	quality Quality
	current Parameters
	primed  bool
}

// NewSmoother starts from the style's base look.
func NewSmoother(style Style, quality Quality) *Smoother {
	return &Smoother{style: style, quality: quality}
}

func (s *Smoother) Style() Style        { return s.style }
func (s *Smoother) Quality() Quality    { return s.quality }
func (s *Smoother) Current() Parameters { return s.current }

// SetStyle switches the target style; the look transitions smoothly.
func (s *Smoother) SetStyle(style Style) { s.style = style }

// SetQuality changes the particle budget.
func (s *Smoother) SetQuality(q Quality) { s.quality = q }

// Step advances the current parameters toward the style target for mapped
// by dt seconds, using t = 1 - exp(-rate*dt).
func (s *Smoother) Step(mapped Parameters, dt float64) Parameters {
	target := s.quality.Apply(s.style.Target(mapped))
	if !s.primed {
		s.current = target
		s.primed = true
		return s.current
	}
	if math.IsNaN(dt) || dt < 0 {
		dt = 0
	}
	rate := target.TransitionRate
	if rate <= 0 {
		rate = Defaults().TransitionRate
	}
	s.current = Blend(s.current, target, 1-math.Exp(-rate*dt))
	s.current.CameraMovement = target.CameraMovement
	return s.current
}

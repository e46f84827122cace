package particles

import (
	"fmt"

	"github.com/guidoenr/particlizer/internal/params"
	"github.com/sirupsen/logrus"
)

// Config describes the particle system. Zero fields take their defaults.
// Speed, Spread and Size shape the seeded population. After that every
// frame's params.Parameters drive the forces; Parameters returns the frame
// this config describes.
type Config struct {
	ParticleCount   int
	WorkgroupSize   uint32
	EmitterPosition [3]float32
	EmitterRadius   float32
	Gravity         float32
	Damping         float32
	AudioReactivity float32
	Lifespan        float32 // seconds
	Speed           float32
	Spread          float32
	Size            float32

	// Seed drives the initial population. Zero seeds from the clock.
	Seed int64

	Log logrus.FieldLogger
}

// DefaultConfig returns a 100k particle system around the origin.
func DefaultConfig() Config {
	return Config{
		ParticleCount:   100_000,
		WorkgroupSize:   256,
		EmitterRadius:   1,
		Gravity:         0.5,
		Damping:         0.8,
		AudioReactivity: 1,
		Lifespan:        3,
		Speed:           1,
		Spread:          1,
		Size:            1,
	}
}

// Parameters returns params.Defaults with the configured motion fields, for
// driving the engine before any audio has been mapped.
func (c Config) Parameters() params.Parameters {
	c = c.withDefaults()
	p := params.Defaults()
	p.Count = c.ParticleCount
	p.Gravity = float64(c.Gravity)
	p.Lifespan = float64(c.Lifespan)
	p.Speed = float64(c.Speed)
	p.Spread = float64(c.Spread)
	p.Size = float64(c.Size)
	return p
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ParticleCount == 0 {
		c.ParticleCount = def.ParticleCount
	}
	if c.WorkgroupSize == 0 {
		c.WorkgroupSize = def.WorkgroupSize
	}
	if c.EmitterRadius == 0 {
		c.EmitterRadius = def.EmitterRadius
	}
	if c.Damping == 0 {
		c.Damping = def.Damping
	}
	if c.AudioReactivity == 0 {
		c.AudioReactivity = def.AudioReactivity
	}
	if c.Lifespan == 0 {
		c.Lifespan = def.Lifespan
	}
	if c.Speed == 0 {
		c.Speed = def.Speed
	}
	if c.Spread == 0 {
		c.Spread = def.Spread
	}
	if c.Size == 0 {
		c.Size = def.Size
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.ParticleCount < 0:
		return fmt.Errorf("particle count %d is negative", c.ParticleCount)
	case c.Lifespan < 0:
		return fmt.Errorf("lifespan %v is negative", c.Lifespan)
	case c.EmitterRadius < 0:
		return fmt.Errorf("emitter radius %v is negative", c.EmitterRadius)
	case c.Damping < 0:
		return fmt.Errorf("damping %v is negative", c.Damping)
	}
	return nil
}

package render

import (
	"math"

	"github.com/guidoenr/particlizer/internal/params"
)

// Camera orbits the origin on the Y axis and takes short kicks on onsets.
type Camera struct {
	Distance float64
	yaw      float64
	shake    params.Vec3
	fov      float64

	sinYaw, cosYaw float64
	focal          float64
}

// NewCamera returns a camera looking at the origin from distance.
func NewCamera(distance float64) *Camera {
	if distance <= 0 {
		distance = 6
	}
	c := &Camera{Distance: distance, fov: 60}
	c.prepare()
	return c
}

// Update advances the orbit by CameraRotation rad/s and folds in the
// impulse from CameraMovement, which decays over roughly a quarter second.
func (c *Camera) Update(p params.Parameters, dt float64) {
	if dt < 0 || math.IsNaN(dt) {
		dt = 0
	}
	c.yaw = math.Mod(c.yaw+p.CameraRotation*dt, 2*math.Pi)
	decay := math.Exp(-dt * 4)
	for i := range c.shake {
		c.shake[i] = c.shake[i]*decay + p.CameraMovement[i]*0.5
	}
	if p.FOV > 1 && p.FOV < 179 {
		c.fov = p.FOV
	}
	c.prepare()
}

func (c *Camera) prepare() {
	c.sinYaw, c.cosYaw = math.Sincos(c.yaw)
	c.focal = 1 / math.Tan(c.fov*math.Pi/360)
}

// Yaw returns the current orbit angle in radians.
func (c *Camera) Yaw() float64 { return c.yaw }

// Project maps a world point to normalized screen space in [-1,1] with +y up.
// ok is false for points behind the near plane.
func (c *Camera) Project(pos [3]float32) (sx, sy, depth float64, ok bool) {
	x := float64(pos[0]) - c.shake[0]
	y := float64(pos[1]) - c.shake[1]
	z := float64(pos[2]) - c.shake[2]

	rx := x*c.cosYaw - z*c.sinYaw
	rz := x*c.sinYaw + z*c.cosYaw

	depth = c.Distance - rz
	if depth <= 0.1 {
		return 0, 0, depth, false
	}
	return rx * c.focal / depth, y * c.focal / depth, depth, true
}

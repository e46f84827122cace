package particles

import "math"

// pcg is the PCG-RXS-M-XS hash, identical to pcg_hash in the shader.
func pcg(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// rng is a per-invocation random stream.
type rng struct{ state uint32 }

func (r *rng) float() float64 {
	r.state = pcg(r.state)
	return float64(r.state) / math.MaxUint32
}

func hash3(x, y, z int32) float64 {
	h := pcg(uint32(x)*73856093 ^ uint32(y)*19349663 ^ uint32(z)*83492791)
	return float64(h) / math.MaxUint32
}

// valueNoise3 is trilinear value noise in [0,1].
func valueNoise3(x, y, z float64) float64 {
	x0, y0, z0 := math.Floor(x), math.Floor(y), math.Floor(z)
	sx, sy, sz := smoothstep(x-x0), smoothstep(y-y0), smoothstep(z-z0)
	ix, iy, iz := int32(x0), int32(y0), int32(z0)

	n000 := hash3(ix, iy, iz)
	n100 := hash3(ix+1, iy, iz)
	n010 := hash3(ix, iy+1, iz)
	n110 := hash3(ix+1, iy+1, iz)
	n001 := hash3(ix, iy, iz+1)
	n101 := hash3(ix+1, iy, iz+1)
	n011 := hash3(ix, iy+1, iz+1)
	n111 := hash3(ix+1, iy+1, iz+1)

	a := lerp(lerp(n000, n100, sx), lerp(n010, n110, sx), sy)
	b := lerp(lerp(n001, n101, sx), lerp(n011, n111, sx), sy)
	return lerp(a, b, sz)
}

// curlish samples three decorrelated noise fields, each mapped to [-1,1].
func curlish(x, y, z, t float64) (float64, float64, float64) {
	return valueNoise3(x+t, y, z)*2 - 1,
		valueNoise3(x+31.4, y+t, z+17.2)*2 - 1,
		valueNoise3(x-12.9, y+47.1, z+t)*2 - 1
}

func smoothstep(v float64) float64 {
	return v * v * (3 - 2*v)
}

func lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

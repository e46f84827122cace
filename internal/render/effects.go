package render

import "math"

// effects holds the screen-space distortion applied after projection.
type effects struct {
	time       float64
	distortion float64
	glitch     float64
}

func (e *effects) advance(dt, distortion, glitch float64) {
	if dt > 0 && !math.IsNaN(dt) {
		e.time += dt
	}
	e.distortion = clampFloat(distortion, 0, 2)
	e.glitch = clamp01(glitch)
}

// warp displaces a normalized screen point along a fractal noise field.
func (e *effects) warp(sx, sy float64) (float64, float64) {
	if e.distortion > 0 {
		strength := e.distortion * 0.06
		sx += fractalNoise(sx*2.3+e.time*0.4, sy*2.3-e.time*0.3) * strength
		sy += fractalNoise(sy*2.3-e.time*0.35+17, sx*2.3+e.time*0.25) * strength
	}
	if e.glitch > 0.05 {
		// horizontal tearing in bands that reshuffle several times a second
		band := math.Floor(sy*8) + math.Floor(e.time*6)*13
		if hash2(band, 3) < e.glitch*0.5 {
			sx += (hash2(band, 7) - 0.5) * e.glitch * 0.4
		}
	}
	return sx, sy
}

func fractalNoise(x, y float64) float64 {
	amp := 0.5
	freq := 1.0
	total := 0.0
	sumAmp := 0.0

	for i := 0; i < 4; i++ {
		total += valueNoise2(x*freq, y*freq) * amp
		sumAmp += amp
		amp *= 0.5
		freq *= 2.0
	}

	if sumAmp == 0 {
		return 0
	}
	return (total/sumAmp)*2.0 - 1.0
}

func valueNoise2(x, y float64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)

	sx := smoothstep(x - x0)
	sy := smoothstep(y - y0)

	n00 := hash2(x0, y0)
	n10 := hash2(x0+1, y0)
	n01 := hash2(x0, y0+1)
	n11 := hash2(x0+1, y0+1)

	return lerp(lerp(n00, n10, sx), lerp(n01, n11, sx), sy)
}

func hash2(x, y float64) float64 {
	return frac(math.Sin(x*127.1+y*311.7) * 43758.5453123)
}

func smoothstep(v float64) float64 {
	return v * v * (3 - 2*v)
}

func lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}

func frac(v float64) float64 {
	return v - math.Floor(v)
}

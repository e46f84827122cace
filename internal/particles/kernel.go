package particles

import "math"

const (
	bindUniforms  = 0
	bindParticles = 1
	bindSpectrum  = 2
)

// noiseScale converts world units to noise lattice cells.
const noiseScale = 0.6

func fget(w []uint32, i int) float64 { return float64(math.Float32frombits(w[i])) }

func fset(w []uint32, i int, v float64) { w[i] = math.Float32bits(float32(v)) }

// updateParticle is the host kernel for shaders/particles.wgsl. It advances
// one particle by one frame.
func updateParticle(id uint32, b [][]uint32) {
	u := b[bindUniforms]
	if id >= u[uCount] {
		return
	}
	base := int(id) * recordWords
	p := b[bindParticles][base : base+recordWords]
	spectrum := b[bindSpectrum]

	t := fget(u, uTime)
	dt := fget(u, uDelta)
	lifespan := math.Max(fget(u, uLifespan), 1e-3)
	reactivity := fget(u, uReactivity)
	bin := float64(math.Float32frombits(spectrum[id%SpectrumBins]))
	emitter := [3]float64{fget(u, uEmitterX), fget(u, uEmitterY), fget(u, uEmitterZ)}

	life := fget(p, offLife) - dt/lifespan
	if life <= 0 {
		respawn(id, u, p, emitter)
	} else {
		var pos, vel [3]float64
		for i := 0; i < 3; i++ {
			pos[i] = fget(p, offPosition+i)
			vel[i] = fget(p, offVelocity+i)
		}

		amp := fget(u, uTurbulence) * reactivity * bin
		flow := t * 0.25 * fget(u, uAnimation)
		nx, ny, nz := curlish(pos[0]*noiseScale, pos[1]*noiseScale, pos[2]*noiseScale, flow)
		// complexity mixes in a finer octave
		detail := clamp01(fget(u, uComplexity))
		dx, dy, dz := curlish(pos[0]*noiseScale*2, pos[1]*noiseScale*2, pos[2]*noiseScale*2, flow*2)
		vel[0] += (nx + detail*0.5*dx) * amp * dt
		vel[1] += (ny + detail*0.5*dy) * amp * dt
		vel[2] += (nz + detail*0.5*dz) * amp * dt

		attract := fget(u, uAttractor)
		for i := 0; i < 3; i++ {
			vel[i] += (emitter[i] - pos[i]) * attract * dt
		}
		for i := 0; i < 3; i++ {
			vel[i] += fget(u, uWindX+i) * dt
		}
		vel[1] -= fget(u, uGravity) * dt

		damp := math.Exp(-fget(u, uDamping) * dt)
		for i := 0; i < 3; i++ {
			vel[i] *= damp
			pos[i] += vel[i] * dt
			fset(p, offPosition+i, pos[i])
			fset(p, offVelocity+i, vel[i])
		}
		fset(p, offLife, life)
	}

	shade(p, u, t, bin*reactivity)
}

func respawn(id uint32, u, p []uint32, emitter [3]float64) {
	r := rng{state: id ^ pcg(u[uTime])}

	// uniform direction on the sphere, radius biased outward
	z := r.float()*2 - 1
	phi := r.float() * 2 * math.Pi
	s := math.Sqrt(math.Max(0, 1-z*z))
	dir := [3]float64{s * math.Cos(phi), s * math.Sin(phi), z}
	extent := fget(u, uEmitterRadius) * fget(u, uSpread)
	radius := extent * math.Cbrt(r.float())
	speed := fget(u, uSpeed) * (0.25 + 0.75*r.float())

	var off [3]float64
	for i := 0; i < 3; i++ {
		off[i] = dir[i] * radius
	}
	if shaped, ok := shapeOffset(u[uShape], fget(u, uSymmetry), extent, &r); ok {
		morph := clamp01(fget(u, uMorph))
		for i := 0; i < 3; i++ {
			off[i] = lerp(shaped[i], off[i], morph)
		}
	}

	for i := 0; i < 3; i++ {
		fset(p, offPosition+i, emitter[i]+off[i])
		fset(p, offVelocity+i, dir[i]*speed)
	}
	fset(p, offLife, 1)
	p[offSeed] = r.state
}

// shapeOffset samples a spawn offset for the non-spherical emitters. Morph
// pulls the result back toward the sphere.
func shapeOffset(shape uint32, symmetry, extent float64, r *rng) ([3]float64, bool) {
	switch shape {
	case shapeCube:
		return [3]float64{
			(r.float()*2 - 1) * extent,
			(r.float()*2 - 1) * extent,
			(r.float()*2 - 1) * extent,
		}, true
	case shapeTorus:
		theta := r.float() * 2 * math.Pi
		psi := r.float() * 2 * math.Pi
		tube := 0.3 * extent
		ring := extent + tube*math.Cos(psi)
		return [3]float64{ring * math.Cos(theta), tube * math.Sin(psi), ring * math.Sin(theta)}, true
	case shapeCustom:
		// symmetry-fold star in the xz plane
		folds := math.Max(1, math.Round(symmetry))
		arm := math.Floor(r.float() * folds)
		theta := (arm + 0.1*(r.float()-0.5)) * 2 * math.Pi / folds
		reach := extent * r.float()
		return [3]float64{reach * math.Cos(theta), 0.1 * extent * (r.float()*2 - 1), reach * math.Sin(theta)}, true
	}
	return [3]float64{}, false
}

// shade recomputes size and premultiplied color from the particle state.
func shade(p, u []uint32, t, audio float64) {
	seed := p[offSeed]
	phase := float64(seed&0xffff) / 0xffff

	size := fget(u, uSize) * (0.5 + phase) * (1 + audio + 0.5*fget(u, uPulse))
	fset(p, offSize, size)

	vx, vy, vz := fget(p, offVelocity), fget(p, offVelocity+1), fget(p, offVelocity+2)
	speed := math.Sqrt(vx*vx + vy*vy + vz*vz)
	glow := clamp01(speed / math.Max(fget(u, uSpeed), 1e-3))
	flicker := 0.75 + 0.25*math.Sin(t*2+phase*2*math.Pi)

	// young particles take the primary color and fade to the secondary
	life := clamp01(fget(p, offLife))
	alpha := clamp01(life * fget(u, uIntensity))
	for i := 0; i < 3; i++ {
		base := lerp(fget(u, uSecondaryR+i), fget(u, uColorR+i), life)
		c := lerp(base, 1, 0.3*glow) * flicker
		fset(p, offColor+i, clamp01(c)*alpha)
	}
	fset(p, offColor+3, alpha)
}

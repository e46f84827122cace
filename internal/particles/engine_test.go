package particles

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/guidoenr/particlizer/internal/analyzer"
	"github.com/guidoenr/particlizer/internal/gpu"
	"github.com/guidoenr/particlizer/internal/params"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEngine(t *testing.T, backend gpu.Backend) (*Engine, *gpu.Service) {
	t.Helper()
	svc := gpu.NewService(backend, gpu.WithLogger(quietLogger()))
	t.Cleanup(svc.Reset)
	return NewEngine(svc), svc
}

func testConfig(count int) Config {
	cfg := DefaultConfig()
	cfg.ParticleCount = count
	cfg.Seed = 42
	cfg.Log = quietLogger()
	return cfg
}

func rampSpectrum() *[SpectrumBins]float32 {
	var s [SpectrumBins]float32
	for i := range s {
		s[i] = float32(i) / SpectrumBins
	}
	return &s
}

func assertFinite(t *testing.T, recs []Record) {
	t.Helper()
	for i, r := range recs {
		vals := append(append(r.Position[:], r.Velocity[:]...), r.Life, r.Size)
		for _, v := range vals {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("particle %d has non-finite state %+v", i, r)
			}
		}
		if r.Life <= 0 || r.Life > 1 {
			t.Fatalf("particle %d life %v outside (0,1]", i, r.Life)
		}
	}
}

func TestHundredThousandParticlesSixtyFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("simulates 6M particle steps")
	}
	e, _ := newEngine(t, gpu.NewSoftwareBackend())
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, testConfig(100_000)))

	p := params.Defaults()
	p.Count = 0
	spectrum := rampSpectrum()
	for i := 0; i < 60; i++ {
		e.Update(1.0/60, spectrum, p)
		require.Equal(t, StateReady, e.State())
	}

	recs, err := e.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 100_000)
	assertFinite(t, recs)
	assert.InDelta(t, 1.0, e.Elapsed(), 1e-9)
}

func TestHundredThousandParticlesWithoutSpectrum(t *testing.T) {
	if testing.Short() {
		t.Skip("simulates 6M particle steps")
	}
	e, _ := newEngine(t, gpu.NewSoftwareBackend())
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, testConfig(100_000)))

	for i := 0; i < 60; i++ {
		e.Update(1.0/60, nil, params.Defaults())
		require.Equal(t, StateReady, e.State())
	}
	assert.Equal(t, params.Defaults().Count, e.Active())

	recs, err := e.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, recs, params.Defaults().Count)
	assertFinite(t, recs)
}

func TestPopulationIsConstant(t *testing.T) {
	e, _ := newEngine(t, gpu.NewSoftwareBackend())
	ctx := context.Background()
	cfg := testConfig(2048)
	cfg.Lifespan = 0.05
	require.NoError(t, e.Initialize(ctx, cfg))
	p := cfg.Parameters()
	require.InDelta(t, 0.05, p.Lifespan, 1e-6)

	var recs []Record
	for frame := 0; frame < 40; frame++ {
		e.Update(1.0/60, nil, p)
		var err error
		recs, err = e.Snapshot(ctx, recs)
		require.NoError(t, err)
		require.Len(t, recs, 2048)
		assertFinite(t, recs)
	}
	assert.Equal(t, 2048, e.Count())
}

func TestActiveCountFollowsParameters(t *testing.T) {
	e, _ := newEngine(t, gpu.NewSoftwareBackend())
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, testConfig(1000)))

	e.Update(1.0/60, nil, params.Parameters{Count: 300})
	assert.Equal(t, 300, e.Active())
	recs, err := e.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 300)

	e.Update(1.0/60, nil, params.Parameters{Count: 5000})
	assert.Equal(t, 1000, e.Active())
}

func TestUpdateOutsideReadyIsNoop(t *testing.T) {
	e, svc := newEngine(t, gpu.NewSoftwareBackend())
	e.Update(1.0/60, nil, params.Parameters{})
	assert.Equal(t, StateUninitialized, e.State())
	_, ok := svc.Device()
	assert.False(t, ok, "update must not acquire a device")

	require.NoError(t, e.Initialize(context.Background(), testConfig(256)))
	e.Destroy()
	assert.Equal(t, StateDestroyed, e.State())

	e.Update(1.0/60, nil, params.Parameters{})
	assert.Equal(t, StateDestroyed, e.State())
	_, err := e.Snapshot(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDestroyReleasesBuffers(t *testing.T) {
	e, _ := newEngine(t, gpu.NewSoftwareBackend())
	require.NoError(t, e.Initialize(context.Background(), testConfig(512)))

	buf, ok := e.ParticleBuffer()
	require.True(t, ok)
	assert.EqualValues(t, 512*RecordSize, buf.Size())

	dev := e.device
	e.Destroy()
	e.Destroy()
	assert.EqualValues(t, 0, dev.Allocated())
	_, ok = e.ParticleBuffer()
	assert.False(t, ok)

	err := e.Initialize(context.Background(), testConfig(512))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDeviceLossDestroysEngine(t *testing.T) {
	e, svc := newEngine(t, gpu.NewSoftwareBackend())
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, testConfig(1024)))
	e.Update(1.0/60, nil, params.Parameters{})

	dev, ok := svc.Device()
	require.True(t, ok)
	dev.Lose("simulated reset")

	select {
	case <-e.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not observe device loss")
	}
	assert.Equal(t, StateDestroyed, e.State())
	e.Update(1.0/60, nil, params.Parameters{})
	assert.Equal(t, StateDestroyed, e.State())
}

func TestInitializeAllocationFailure(t *testing.T) {
	backend := gpu.NewSoftwareBackend()
	backend.Limits.MaxStorageBufferBindingSize = 1 << 10
	e, _ := newEngine(t, backend)

	err := e.Initialize(context.Background(), testConfig(1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, gpu.ErrAllocationFailed)

	var engErr *EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, "initialize", engErr.Op)
	assert.Equal(t, StateUninitialized, e.State())
}

func TestInitializeWorkgroupTooLarge(t *testing.T) {
	e, _ := newEngine(t, gpu.NewSoftwareBackend())
	cfg := testConfig(1000)
	cfg.WorkgroupSize = 512
	assert.ErrorIs(t, e.Initialize(context.Background(), cfg), gpu.ErrAllocationFailed)
}

type noAdapter struct{}

func (noAdapter) Name() string { return "none" }
func (noAdapter) Open(context.Context, logrus.FieldLogger) (*gpu.Device, error) {
	return nil, errors.New("no adapter found")
}

func TestInitializeWithoutDevice(t *testing.T) {
	e, _ := newEngine(t, noAdapter{})
	err := e.Initialize(context.Background(), testConfig(100))
	assert.ErrorIs(t, err, gpu.ErrDeviceUnavailable)
	assert.Equal(t, StateUninitialized, e.State())
}

func TestRespawnStaysInsideEmitter(t *testing.T) {
	u := frameUniforms{
		Time: 1.5, Delta: 0.1, Count: 1, AudioReactivity: 1,
		EmitterPosition: [3]float32{1, 2, 3}, EmitterRadius: 0.5,
		Lifespan: 1, Speed: 2, Spread: 1, Turbulence: 1, Size: 1, Intensity: 1,
		Color: [3]float32{1, 0, 0},
	}
	dying := Record{Life: 0.01, Position: [3]float32{50, 50, 50}}

	bindings := [][]uint32{
		bytesToWords(u.bytes()),
		bytesToWords(encodeRecords([]Record{dying})),
		make([]uint32, SpectrumBins),
	}
	updateParticle(0, bindings)
	got := decodeRecord(wordsToBytes(bindings[bindParticles]))

	assert.Equal(t, float32(1), got.Life)
	dx, dy, dz := got.Position[0]-1, got.Position[1]-2, got.Position[2]-3
	assert.LessOrEqual(t, math.Sqrt(float64(dx*dx+dy*dy+dz*dz)), 0.5+1e-5)
	speed := math.Sqrt(float64(got.Velocity[0]*got.Velocity[0] + got.Velocity[1]*got.Velocity[1] + got.Velocity[2]*got.Velocity[2]))
	assert.InDelta(t, 1.25, speed, 0.75+1e-5)
	assert.Greater(t, got.Color[0], got.Color[2], "primary red should dominate")

	// a particle past the population is untouched
	updateParticle(1, [][]uint32{bindings[0], make([]uint32, 2*recordWords), bindings[2]})
}

func TestUniformBlockLayout(t *testing.T) {
	u := frameUniforms{Count: 7, Attractor: 2}
	raw := u.bytes()
	require.Len(t, raw, uniformSize)
	words := bytesToWords(raw)
	assert.EqualValues(t, 7, words[uCount])
	assert.Equal(t, float32(2), math.Float32frombits(words[uAttractor]))
	assert.Contains(t, shaderSource, "override WORKGROUP_SIZE")
}

func TestZeroParametersReachUniforms(t *testing.T) {
	e := NewEngine(nil)
	e.cfg = testConfig(16).withDefaults()

	// the top of the centroid range maps to zero gravity
	top := params.Map(analyzer.Features{SpectralCentroid: 8000})
	require.Zero(t, top.Gravity)
	u := e.uniforms(1.0/60, 16, top)
	assert.Zero(t, u.Gravity)

	below := params.Map(analyzer.Features{SpectralCentroid: 7900})
	assert.InDelta(t, below.Gravity, float64(e.uniforms(1.0/60, 16, below).Gravity), 1e-6)

	p := params.Defaults()
	p.Speed = 0
	p.Lifespan = 0
	p.Intensity = 0
	p.Primary = params.Vec3{}
	u = e.uniforms(1.0/60, 16, p)
	assert.Zero(t, u.Speed)
	assert.Zero(t, u.Lifespan)
	assert.Zero(t, u.Intensity)
	assert.Equal(t, [3]float32{}, u.Color)

	// config still owns the emitter and damping
	assert.Equal(t, e.cfg.Damping, u.Damping)
	assert.Equal(t, e.cfg.EmitterRadius, u.EmitterRadius)
}

func stepOne(u frameUniforms, rec Record, spectrum []uint32) Record {
	bindings := [][]uint32{
		bytesToWords(u.bytes()),
		bytesToWords(encodeRecords([]Record{rec})),
		spectrum,
	}
	updateParticle(0, bindings)
	return decodeRecord(wordsToBytes(bindings[bindParticles]))
}

func TestNoNoiseForceWithoutAudio(t *testing.T) {
	u := frameUniforms{
		Time: 2, Delta: 0.1, Count: 1, AudioReactivity: 1,
		Lifespan: 10, Speed: 1, Turbulence: 5, Size: 1, Intensity: 1,
	}
	still := Record{Life: 1, Position: [3]float32{0.3, -0.7, 1.1}, Seed: 9}

	got := stepOne(u, still, make([]uint32, SpectrumBins))
	assert.Equal(t, [3]float32{}, got.Velocity)
	assert.Equal(t, still.Position, got.Position)

	loud := make([]uint32, SpectrumBins)
	for i := range loud {
		loud[i] = math.Float32bits(1)
	}
	got = stepOne(u, still, loud)
	assert.NotEqual(t, [3]float32{}, got.Velocity)
}

func TestWindSecondaryAndPulse(t *testing.T) {
	u := frameUniforms{
		Time: 0, Delta: 0.5, Count: 1,
		Lifespan: 10, Speed: 1, Size: 1, Intensity: 1,
		Color:     [3]float32{1, 0, 0},
		Secondary: [3]float32{0, 0, 1},
		Wind:      [3]float32{2, 0, 0},
	}
	rec := Record{Life: 0.2, Seed: 0}

	got := stepOne(u, rec, make([]uint32, SpectrumBins))
	assert.Greater(t, got.Velocity[0], float32(0), "wind pushes along +x")
	assert.Zero(t, got.Velocity[1])
	assert.Greater(t, got.Color[2], got.Color[0], "an old particle leans to the secondary color")

	calm := got.Size
	u.Pulse = 1
	got = stepOne(u, rec, make([]uint32, SpectrumBins))
	assert.InDelta(t, float64(calm)*1.5, float64(got.Size), 1e-5)
}

// spawnAll respawns n expired particles under u.
func spawnAll(u frameUniforms, n int) []Record {
	u.Count = uint32(n)
	bindings := [][]uint32{
		bytesToWords(u.bytes()),
		bytesToWords(encodeRecords(make([]Record, n))),
		make([]uint32, SpectrumBins),
	}
	for id := 0; id < n; id++ {
		updateParticle(uint32(id), bindings)
	}
	raw := wordsToBytes(bindings[bindParticles])
	out := make([]Record, n)
	for i := range out {
		out[i] = decodeRecord(raw[i*recordWords*4 : (i+1)*recordWords*4])
	}
	return out
}

func TestEmitterShapes(t *testing.T) {
	base := frameUniforms{
		Time: 1, Delta: 0.1, EmitterRadius: 1, Spread: 1,
		Lifespan: 10, Speed: 1, Size: 1, Intensity: 1, Symmetry: 4,
	}

	t.Run("cube", func(t *testing.T) {
		u := base
		u.Shape = shapeCube
		for _, r := range spawnAll(u, 64) {
			for _, v := range r.Position {
				assert.LessOrEqual(t, math.Abs(float64(v)), 1+1e-5)
			}
		}
	})

	t.Run("torus", func(t *testing.T) {
		u := base
		u.Shape = shapeTorus
		for _, r := range spawnAll(u, 64) {
			ring := math.Hypot(float64(r.Position[0]), float64(r.Position[2]))
			assert.InDelta(t, 1, ring, 0.3+1e-5)
			assert.LessOrEqual(t, math.Abs(float64(r.Position[1])), 0.3+1e-5)
		}
	})

	t.Run("custom", func(t *testing.T) {
		u := base
		u.Shape = shapeCustom
		arm := math.Pi / 2
		for _, r := range spawnAll(u, 64) {
			x, z := float64(r.Position[0]), float64(r.Position[2])
			assert.LessOrEqual(t, math.Abs(float64(r.Position[1])), 0.1+1e-5)
			if math.Hypot(x, z) < 1e-3 {
				continue
			}
			theta := math.Atan2(z, x)
			off := theta - arm*math.Round(theta/arm)
			assert.LessOrEqual(t, math.Abs(off), 0.05*2*math.Pi/4+1e-4, "spawns sit on one of four arms")
		}
	})

	t.Run("full morph returns to the sphere", func(t *testing.T) {
		sphere := spawnAll(base, 16)
		u := base
		u.Shape = shapeTorus
		u.Morph = 1
		for i, r := range spawnAll(u, 16) {
			for k := 0; k < 3; k++ {
				assert.InDelta(t, sphere[i].Position[k], r.Position[k], 1e-5)
			}
		}
	})
}

func TestShapeAndMotionReachUniforms(t *testing.T) {
	e := NewEngine(nil)
	e.cfg = testConfig(16).withDefaults()
	p := params.Defaults()
	p.Shape = params.ShapeTorus
	p.Symmetry = 6
	p.Complexity = 0.8
	p.Morph = 0.25
	p.AnimationSpeed = 1.5

	u := e.uniforms(1.0/60, 16, p)
	assert.EqualValues(t, shapeTorus, u.Shape)
	assert.Equal(t, float32(6), u.Symmetry)
	assert.Equal(t, float32(0.8), u.Complexity)
	assert.Equal(t, float32(0.25), u.Morph)
	assert.Equal(t, float32(1.5), u.Animation)

	p.Shape = "blob"
	assert.EqualValues(t, shapeSphere, e.uniforms(1.0/60, 16, p).Shape)
}

func bytesToWords(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
	}
	return out
}

func wordsToBytes(w []uint32) []byte {
	out := make([]byte, 4*len(w))
	for i, v := range w {
		out[4*i], out[4*i+1], out[4*i+2], out[4*i+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
	return out
}

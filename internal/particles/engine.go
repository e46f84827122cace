package particles

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guidoenr/particlizer/internal/gpu"
	"github.com/guidoenr/particlizer/internal/params"
	"github.com/sirupsen/logrus"
)

//go:embed shaders/particles.wgsl
var shaderSource string

// maxDelta caps a single simulation step so a stalled frame does not fling
// every particle out of the scene.
const maxDelta = 0.25

// ErrInvalidState is returned when an operation is not allowed in the
// engine's current state.
var ErrInvalidState = errors.New("particles: invalid engine state")

// State is the engine lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateUpdating
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// EngineError records a failed engine operation.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string { return "particles: " + e.Op + ": " + e.Err.Error() }
func (e *EngineError) Unwrap() error { return e.Err }

// Engine simulates a fixed population of particles on a compute device.
// Update is called from a single frame loop; State, Lost and Snapshot may be
// called from any goroutine.
type Engine struct {
	svc   *gpu.Service
	state atomic.Int32
	lost  chan struct{}

	mu          sync.Mutex
	log         logrus.FieldLogger
	cfg         Config
	device      *gpu.Device
	particleBuf *gpu.Buffer
	uniformBuf  *gpu.Buffer
	spectrumBuf *gpu.Buffer
	pipeline    *gpu.ComputePipeline
	bindGroup   *gpu.BindGroup
	unsubscribe func()
	elapsed     float64
	active      uint32
	frames      uint64
}

// NewEngine returns an uninitialized engine that will draw its device from svc.
func NewEngine(svc *gpu.Service) *Engine {
	return &Engine{
		svc:  svc,
		lost: make(chan struct{}),
		log:  logrus.StandardLogger().WithField("component", "particles"),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Lost is closed when the engine is invalidated by device loss.
func (e *Engine) Lost() <-chan struct{} { return e.lost }

// Count returns the number of particle slots.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.ParticleCount
}

// Active returns how many particles the last Update simulated.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.active)
}

// Elapsed returns the simulation time in seconds.
func (e *Engine) Elapsed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsed
}

// ParticleBuffer returns the device buffer holding the particle records for
// renderers to bind read-only.
func (e *Engine) ParticleBuffer() (*gpu.Buffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.particleBuf == nil {
		return nil, false
	}
	return e.particleBuf, true
}

// Initialize acquires the device, allocates buffers, builds the compute
// pipeline and seeds the population.
func (e *Engine) Initialize(ctx context.Context, cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.State(); st != StateUninitialized {
		return &EngineError{Op: "initialize", Err: fmt.Errorf("%w: %s", ErrInvalidState, st)}
	}
	cfg = cfg.withDefaults()
	e.log = cfg.Log.WithField("component", "particles")
	if err := cfg.validate(); err != nil {
		return &EngineError{Op: "initialize", Err: err}
	}

	dev, err := e.svc.Initialize(ctx)
	if err != nil {
		return &EngineError{Op: "initialize", Err: err}
	}
	if err := checkLimits(cfg, dev.Capabilities().Limits); err != nil {
		return &EngineError{Op: "initialize", Err: err}
	}

	e.cfg = cfg
	e.device = dev
	if err := e.allocate(); err != nil {
		e.release()
		return &EngineError{Op: "initialize", Err: err}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	population := seedPopulation(cfg, rand.New(rand.NewSource(seed)))
	if err := dev.Queue().WriteBuffer(e.particleBuf, 0, encodeRecords(population)); err != nil {
		e.release()
		return &EngineError{Op: "initialize", Err: err}
	}

	id := dev.ID()
	e.unsubscribe = e.svc.OnDeviceLost(func(info gpu.DeviceLostInfo) {
		if info.DeviceID == id {
			e.handleLost(info)
		}
	})
	if dev.IsLost() {
		e.release()
		return &EngineError{Op: "initialize", Err: gpu.ErrDeviceLost}
	}

	e.active = uint32(cfg.ParticleCount)
	e.elapsed = 0
	e.state.Store(int32(StateReady))
	e.log.WithFields(logrus.Fields{
		"particles":      cfg.ParticleCount,
		"workgroup_size": cfg.WorkgroupSize,
		"buffer_bytes":   uint64(cfg.ParticleCount) * RecordSize,
		"device":         id,
	}).Info("particle engine ready")
	return nil
}

func checkLimits(cfg Config, limits gpu.Limits) error {
	size := uint64(cfg.ParticleCount) * RecordSize
	if size > limits.MaxStorageBufferBindingSize || size > limits.MaxBufferSize {
		return fmt.Errorf("%w: %d particles need %d bytes, device allows %d",
			gpu.ErrAllocationFailed, cfg.ParticleCount, size, min(limits.MaxStorageBufferBindingSize, limits.MaxBufferSize))
	}
	if cfg.WorkgroupSize > limits.MaxComputeWorkgroupSizeX {
		return fmt.Errorf("%w: workgroup size %d, device allows %d",
			gpu.ErrAllocationFailed, cfg.WorkgroupSize, limits.MaxComputeWorkgroupSizeX)
	}
	groups := (uint64(cfg.ParticleCount) + uint64(cfg.WorkgroupSize) - 1) / uint64(cfg.WorkgroupSize)
	if groups > uint64(limits.MaxComputeWorkgroupsPerDimension) {
		return fmt.Errorf("%w: %d workgroups, device allows %d",
			gpu.ErrAllocationFailed, groups, limits.MaxComputeWorkgroupsPerDimension)
	}
	return nil
}

func (e *Engine) allocate() error {
	var err error
	e.particleBuf, err = e.device.CreateBuffer(gpu.BufferDescriptor{
		Label: "particles",
		Size:  uint64(e.cfg.ParticleCount) * RecordSize,
		Usage: gpu.BufferUsageStorage | gpu.BufferUsageVertex | gpu.BufferUsageCopyDst | gpu.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("particle buffer: %w", err)
	}
	e.uniformBuf, err = e.device.CreateBuffer(gpu.BufferDescriptor{
		Label: "particle uniforms",
		Size:  uniformSize,
		Usage: gpu.BufferUsageUniform | gpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("uniform buffer: %w", err)
	}
	e.spectrumBuf, err = e.device.CreateBuffer(gpu.BufferDescriptor{
		Label: "spectrum",
		Size:  4 * SpectrumBins,
		Usage: gpu.BufferUsageStorage | gpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("spectrum buffer: %w", err)
	}

	prog, err := e.device.CreateProgram(gpu.ProgramDescriptor{
		Label:         "particles.update",
		Source:        shaderSource,
		EntryPoint:    "main",
		WorkgroupSize: e.cfg.WorkgroupSize,
		Bindings: []gpu.BindingLayout{
			{Binding: bindUniforms, Type: gpu.BindingUniform},
			{Binding: bindParticles, Type: gpu.BindingStorage},
			{Binding: bindSpectrum, Type: gpu.BindingReadOnlyStorage},
		},
		Kernel: updateParticle,
	})
	if err != nil {
		return err
	}
	e.pipeline, err = e.device.CreateComputePipeline("particles.update", prog)
	if err != nil {
		return err
	}
	e.bindGroup, err = e.device.CreateBindGroup(e.pipeline, map[uint32]*gpu.Buffer{
		bindUniforms:  e.uniformBuf,
		bindParticles: e.particleBuf,
		bindSpectrum:  e.spectrumBuf,
	})
	return err
}

// release drops every device resource. Safe on partial initialization.
func (e *Engine) release() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	for _, buf := range []*gpu.Buffer{e.particleBuf, e.uniformBuf, e.spectrumBuf} {
		if buf != nil {
			buf.Destroy()
		}
	}
	e.particleBuf, e.uniformBuf, e.spectrumBuf = nil, nil, nil
	e.pipeline, e.bindGroup = nil, nil
	e.device = nil
}

func seedPopulation(cfg Config, rng *rand.Rand) []Record {
	recs := make([]Record, cfg.ParticleCount)
	for i := range recs {
		z := rng.Float64()*2 - 1
		phi := rng.Float64() * 2 * math.Pi
		s := math.Sqrt(1 - z*z)
		dir := [3]float64{s * math.Cos(phi), s * math.Sin(phi), z}
		radius := float64(cfg.EmitterRadius*cfg.Spread) * math.Cbrt(rng.Float64())
		speed := float64(cfg.Speed) * (0.25 + 0.75*rng.Float64())

		r := &recs[i]
		for k := 0; k < 3; k++ {
			r.Position[k] = cfg.EmitterPosition[k] + float32(dir[k]*radius)
			r.Velocity[k] = float32(dir[k] * speed)
		}
		// stagger lives so respawns spread over the lifespan
		r.Life = 1 - rng.Float32()
		r.Seed = rng.Uint32()
		r.Size = cfg.Size * (0.5 + float32(r.Seed&0xffff)/0xffff)
		r.Color = [4]float32{r.Life, r.Life, r.Life, r.Life}
	}
	return recs
}

// Update advances the simulation by dt seconds. It enqueues the spectrum,
// the uniform block and one compute dispatch and returns without waiting.
func (e *Engine) Update(dt float64, spectrum *[SpectrumBins]float32, p params.Parameters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.CompareAndSwap(int32(StateReady), int32(StateUpdating)) {
		e.log.WithField("state", e.State().String()).Warn("update ignored: engine not ready")
		return
	}
	defer e.state.CompareAndSwap(int32(StateUpdating), int32(StateReady))

	if math.IsNaN(dt) || dt < 0 {
		dt = 0
	}
	dt = math.Min(dt, maxDelta)
	e.elapsed += dt

	active := uint32(e.cfg.ParticleCount)
	if p.Count > 0 && p.Count < e.cfg.ParticleCount {
		active = uint32(p.Count)
	}
	e.active = active

	u := e.uniforms(float32(dt), active, p)
	q := e.device.Queue()
	if err := q.WriteBuffer(e.spectrumBuf, 0, spectrumBytes(spectrum)); err != nil {
		e.fail("write spectrum", err)
		return
	}
	if err := q.WriteBuffer(e.uniformBuf, 0, u.bytes()); err != nil {
		e.fail("write uniforms", err)
		return
	}
	groups := (active + e.cfg.WorkgroupSize - 1) / e.cfg.WorkgroupSize
	if err := q.Dispatch(e.bindGroup, groups); err != nil {
		e.fail("dispatch", err)
		return
	}
	e.frames++
}

// uniforms packs one frame. The per-frame parameters are authoritative for
// every field they carry; Config only supplies the emitter, damping and
// reactivity.
func (e *Engine) uniforms(dt float32, active uint32, p params.Parameters) frameUniforms {
	p = p.Sanitize()
	return frameUniforms{
		Time:            float32(e.elapsed),
		Delta:           dt,
		Count:           active,
		AudioReactivity: e.cfg.AudioReactivity,
		EmitterPosition: e.cfg.EmitterPosition,
		EmitterRadius:   e.cfg.EmitterRadius,
		Gravity:         float32(p.Gravity),
		Damping:         e.cfg.Damping,
		Lifespan:        float32(p.Lifespan),
		Speed:           float32(p.Speed),
		Spread:          float32(p.Spread),
		Turbulence:      float32(p.Turbulence),
		Size:            float32(p.Size),
		Intensity:       float32(p.Intensity),
		Color:           vec3f(p.Primary),
		Attractor:       float32(p.AttractorStrength),
		Wind:            vec3f(p.Wind),
		Pulse:           float32(p.Pulse),
		Secondary:       vec3f(p.Secondary),
		Shape:           shapeIndex(p.Shape),
		Symmetry:        float32(p.Symmetry),
		Complexity:      float32(p.Complexity),
		Morph:           float32(p.Morph),
		Animation:       float32(p.AnimationSpeed),
	}
}

func shapeIndex(s params.Shape) uint32 {
	switch s {
	case params.ShapeCube:
		return shapeCube
	case params.ShapeTorus:
		return shapeTorus
	case params.ShapeCustom:
		return shapeCustom
	default:
		return shapeSphere
	}
}

func vec3f(v params.Vec3) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

func (e *Engine) fail(op string, err error) {
	entry := e.log.WithError(err).WithField("op", op)
	if errors.Is(err, gpu.ErrDeviceLost) {
		entry.Debug("device lost during update")
		return
	}
	entry.Warn("update failed")
}

// Snapshot copies the active particle records into dst, growing it as
// needed, once every previously submitted update has run.
func (e *Engine) Snapshot(ctx context.Context, dst []Record) ([]Record, error) {
	e.mu.Lock()
	if st := e.State(); st != StateReady {
		e.mu.Unlock()
		return dst[:0], &EngineError{Op: "snapshot", Err: fmt.Errorf("%w: %s", ErrInvalidState, st)}
	}
	q := e.device.Queue()
	buf := e.particleBuf
	n := int(e.active)
	e.mu.Unlock()

	raw := make([]byte, n*RecordSize)
	if err := q.ReadBuffer(ctx, buf, 0, raw); err != nil {
		return dst[:0], &EngineError{Op: "snapshot", Err: err}
	}
	if cap(dst) < n {
		dst = make([]Record, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = decodeRecord(raw[i*RecordSize:])
	}
	return dst, nil
}

// Destroy releases every device resource. Calling it again is a no-op.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.State(); st != StateReady {
		e.log.WithField("state", st.String()).Warn("destroy ignored: engine not ready")
		return
	}
	e.release()
	e.state.Store(int32(StateDestroyed))
	e.log.WithField("frames", e.frames).Info("particle engine destroyed")
}

func (e *Engine) handleLost(info gpu.DeviceLostInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.State(); st != StateReady && st != StateUpdating {
		return
	}
	e.release()
	e.state.Store(int32(StateDestroyed))
	close(e.lost)
	e.log.WithFields(logrus.Fields{
		"device": info.DeviceID,
		"reason": info.Reason.String(),
		"frames": e.frames,
	}).Warn("device lost, particle engine invalidated")
}

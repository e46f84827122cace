package gpu

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doubleSource = `
override WORKGROUP_SIZE: u32 = 64u;

@group(0) @binding(0) var<storage, read_write> values: array<f32>;

@compute @workgroup_size(WORKGROUP_SIZE)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= arrayLength(&values)) { return; }
    values[id.x] = values[id.x] * 2.0;
}
`

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(NewSoftwareBackend(), WithLogger(quietLogger()))
	t.Cleanup(svc.Reset)
	return svc
}

func doubleDescriptor(n uint32) ProgramDescriptor {
	return ProgramDescriptor{
		Label:         "double",
		Source:        doubleSource,
		WorkgroupSize: 64,
		Bindings:      []BindingLayout{{Binding: 0, Type: BindingStorage}},
		Kernel: func(id uint32, b [][]uint32) {
			if id >= n {
				return
			}
			b[0][id] = math.Float32bits(math.Float32frombits(b[0][id]) * 2)
		},
	}
}

func f32bytes(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func TestInitializeIsMemoized(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	devices := make([]*Device, 8)
	for i := range devices {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := svc.Initialize(ctx)
			assert.NoError(t, err)
			devices[i] = d
		}(i)
	}
	wg.Wait()

	for _, d := range devices[1:] {
		assert.Same(t, devices[0], d)
	}
	got, ok := svc.Device()
	require.True(t, ok)
	assert.Same(t, devices[0], got)
}

type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }
func (failingBackend) Open(context.Context, logrus.FieldLogger) (*Device, error) {
	return nil, errors.New("no adapter")
}

func TestInitializeUnavailable(t *testing.T) {
	svc := NewService(failingBackend{}, WithLogger(quietLogger()))
	_, err := svc.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = svc.Capabilities()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestInitializeCancelledContext(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Initialize(ctx)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestCapabilitiesReportLimits(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Initialize(context.Background())
	require.NoError(t, err)

	caps, err := svc.Capabilities()
	require.NoError(t, err)
	assert.Equal(t, "software", caps.Backend)
	assert.Equal(t, DefaultLimits(), caps.Limits)
	assert.False(t, caps.Has(FeatureShaderF16))
}

func TestCreateBufferLimits(t *testing.T) {
	svc := newTestService(t)
	d, err := svc.Initialize(context.Background())
	require.NoError(t, err)

	_, err = d.CreateBuffer(BufferDescriptor{Label: "huge", Size: 512 << 20, Usage: BufferUsageStorage})
	assert.ErrorIs(t, err, ErrAllocationFailed)

	_, err = d.CreateBuffer(BufferDescriptor{Label: "empty", Usage: BufferUsageStorage})
	assert.ErrorIs(t, err, ErrAllocationFailed)

	buf, err := d.CreateBuffer(BufferDescriptor{Label: "ok", Size: 1024, Usage: BufferUsageStorage})
	require.NoError(t, err)
	assert.EqualValues(t, 1024, d.Allocated())
	buf.Destroy()
	buf.Destroy()
	assert.EqualValues(t, 0, d.Allocated())
}

func TestDispatchRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	d, err := svc.Initialize(ctx)
	require.NoError(t, err)

	const n = 100
	pipeline, err := svc.CreateComputePipeline(doubleDescriptor(n))
	require.NoError(t, err)

	buf, err := svc.CreateBuffer(BufferDescriptor{
		Label: "values",
		Size:  4 * n,
		Usage: BufferUsageStorage | BufferUsageCopySrc | BufferUsageCopyDst,
	})
	require.NoError(t, err)

	in := make([]float32, n)
	for i := range in {
		in[i] = float32(i)
	}
	bg, err := d.CreateBindGroup(pipeline, map[uint32]*Buffer{0: buf})
	require.NoError(t, err)

	q := d.Queue()
	require.NoError(t, q.WriteBuffer(buf, 0, f32bytes(in...)))
	require.NoError(t, q.Dispatch(bg, (n+63)/64))
	require.NoError(t, q.Dispatch(bg, (n+63)/64))

	out := make([]byte, 4*n)
	require.NoError(t, q.ReadBuffer(ctx, buf, 0, out))
	for i := 0; i < n; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(out[4*i:]))
		assert.Equal(t, float32(i)*4, got, "index %d", i)
	}
}

func TestProgramValidation(t *testing.T) {
	svc := newTestService(t)
	d, err := svc.Initialize(context.Background())
	require.NoError(t, err)

	desc := doubleDescriptor(1)
	desc.WorkgroupSize = 1024
	_, err = d.CreateProgram(desc)
	assert.ErrorIs(t, err, ErrAllocationFailed)

	desc = doubleDescriptor(1)
	desc.Bindings = []BindingLayout{{Binding: 0, Type: BindingUniform}}
	_, err = d.CreateProgram(desc)
	assert.ErrorIs(t, err, ErrInvalidProgram)

	desc = doubleDescriptor(1)
	desc.EntryPoint = "update"
	_, err = d.CreateProgram(desc)
	assert.ErrorIs(t, err, ErrInvalidProgram)

	desc = doubleDescriptor(1)
	desc.Kernel = nil
	_, err = d.CreateProgram(desc)
	assert.ErrorIs(t, err, ErrInvalidProgram)
}

func TestBindGroupRequiresUsage(t *testing.T) {
	svc := newTestService(t)
	d, err := svc.Initialize(context.Background())
	require.NoError(t, err)

	pipeline, err := svc.CreateComputePipeline(doubleDescriptor(4))
	require.NoError(t, err)
	uni, err := d.CreateBuffer(BufferDescriptor{Label: "u", Size: 16, Usage: BufferUsageUniform})
	require.NoError(t, err)

	_, err = d.CreateBindGroup(pipeline, map[uint32]*Buffer{0: uni})
	assert.ErrorIs(t, err, ErrInvalidBinding)
	_, err = d.CreateBindGroup(pipeline, nil)
	assert.ErrorIs(t, err, ErrInvalidBinding)
}

func TestQueueRejectsMisalignedAccess(t *testing.T) {
	svc := newTestService(t)
	d, err := svc.Initialize(context.Background())
	require.NoError(t, err)
	buf, err := d.CreateBuffer(BufferDescriptor{Label: "b", Size: 16, Usage: BufferUsageCopyDst | BufferUsageCopySrc})
	require.NoError(t, err)

	assert.ErrorIs(t, d.Queue().WriteBuffer(buf, 2, []byte{1, 2, 3, 4}), ErrInvalidBinding)
	assert.ErrorIs(t, d.Queue().WriteBuffer(buf, 16, []byte{1, 2, 3, 4}), ErrInvalidBinding)
}

func TestDeviceLostNotifiesSubscribers(t *testing.T) {
	svc := newTestService(t)
	d, err := svc.Initialize(context.Background())
	require.NoError(t, err)

	got := make(chan DeviceLostInfo, 2)
	svc.OnDeviceLost(func(info DeviceLostInfo) { got <- info })
	unsubscribe := svc.OnDeviceLost(func(DeviceLostInfo) { t.Error("unsubscribed callback ran") })
	unsubscribe()

	d.Lose("driver reset")

	select {
	case info := <-got:
		assert.Equal(t, d.ID(), info.DeviceID)
		assert.Equal(t, DeviceLostReasonUnknown, info.Reason)
		assert.Equal(t, "driver reset", info.Message)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}

	_, ok := svc.Device()
	assert.False(t, ok)
	_, err = d.CreateBuffer(BufferDescriptor{Label: "late", Size: 4, Usage: BufferUsageStorage})
	assert.ErrorIs(t, err, ErrDeviceLost)
	assert.ErrorIs(t, d.Queue().Flush(context.Background()), ErrDeviceLost)

	next, err := svc.Initialize(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, d.ID(), next.ID())
}

func TestKernelFaultLosesDevice(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	d, err := svc.Initialize(ctx)
	require.NoError(t, err)

	desc := doubleDescriptor(4)
	desc.Kernel = func(id uint32, b [][]uint32) { b[0][id+1000]++ }
	pipeline, err := svc.CreateComputePipeline(desc)
	require.NoError(t, err)
	buf, err := d.CreateBuffer(BufferDescriptor{Label: "v", Size: 16, Usage: BufferUsageStorage})
	require.NoError(t, err)
	bg, err := d.CreateBindGroup(pipeline, map[uint32]*Buffer{0: buf})
	require.NoError(t, err)

	require.NoError(t, d.Queue().Dispatch(bg, 1))
	select {
	case <-d.Lost():
	case <-time.After(time.Second):
		t.Fatal("device survived a kernel fault")
	}
	info, ok := d.LostInfo()
	require.True(t, ok)
	assert.Contains(t, info.Message, "faulted")
}

func TestCleanupReportsDestroyed(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Initialize(context.Background())
	require.NoError(t, err)

	got := make(chan DeviceLostInfo, 1)
	svc.OnDeviceLost(func(info DeviceLostInfo) { got <- info })
	svc.Cleanup()

	select {
	case info := <-got:
		assert.Equal(t, DeviceLostReasonDestroyed, info.Reason)
	case <-time.After(time.Second):
		t.Fatal("cleanup did not notify")
	}
}

func TestBufferUsageString(t *testing.T) {
	assert.Equal(t, "none", BufferUsage(0).String())
	assert.Equal(t, "storage|copy-src", (BufferUsageStorage | BufferUsageCopySrc).String())
}

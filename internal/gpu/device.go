package gpu

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const queueDepth = 64

// Device is an acquired compute device. All buffer writes, dispatches and
// reads go through its single Queue and execute in submission order.
type Device struct {
	id      string
	caps    Capabilities
	workers int
	log     logrus.FieldLogger
	queue   *Queue

	lostOnce sync.Once
	lostCh   chan struct{}
	lostInfo atomic.Pointer[DeviceLostInfo]
	onLost   func(DeviceLostInfo)

	mu        sync.Mutex
	allocated uint64
}

func newDevice(caps Capabilities, workers int, log logrus.FieldLogger) *Device {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	d := &Device{
		id:      uuid.NewString(),
		caps:    caps,
		workers: workers,
		lostCh:  make(chan struct{}),
	}
	d.log = log.WithFields(logrus.Fields{
		"component": "gpu",
		"device":    d.id,
	})
	d.queue = newQueue(d)
	return d
}

// ID uniquely identifies this device instance.
func (d *Device) ID() string { return d.id }

// Capabilities returns the limits and features of the device.
func (d *Device) Capabilities() Capabilities { return d.caps }

// Queue returns the device's command queue.
func (d *Device) Queue() *Queue { return d.queue }

// Lost is closed once the device is lost or destroyed.
func (d *Device) Lost() <-chan struct{} { return d.lostCh }

// IsLost reports whether the device can no longer be used.
func (d *Device) IsLost() bool {
	select {
	case <-d.lostCh:
		return true
	default:
		return false
	}
}

// LostInfo returns why the device was lost, if it was.
func (d *Device) LostInfo() (DeviceLostInfo, bool) {
	info := d.lostInfo.Load()
	if info == nil {
		return DeviceLostInfo{}, false
	}
	return *info, true
}

// Lose marks the device as lost. The software backend calls it when a kernel
// faults; tests call it to simulate a driver reset.
func (d *Device) Lose(message string) {
	d.markLost(DeviceLostReasonUnknown, message)
}

// Destroy releases the device. Subscribers observe it as a loss with reason
// DeviceLostReasonDestroyed.
func (d *Device) Destroy() {
	d.markLost(DeviceLostReasonDestroyed, "device destroyed")
}

func (d *Device) markLost(reason DeviceLostReason, message string) {
	d.lostOnce.Do(func() {
		info := DeviceLostInfo{DeviceID: d.id, Reason: reason, Message: message}
		d.lostInfo.Store(&info)
		close(d.lostCh)
		d.log.WithFields(logrus.Fields{
			"reason":  reason.String(),
			"message": message,
		}).Warn("device lost")
		if d.onLost != nil {
			d.onLost(info)
		}
	})
}

// CreateBuffer allocates a zero-filled buffer.
func (d *Device) CreateBuffer(desc BufferDescriptor) (*Buffer, error) {
	if d.IsLost() {
		return nil, ErrDeviceLost
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %s has zero size", ErrAllocationFailed, desc.Label)
	}
	if desc.Size > d.caps.Limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer %s is %d bytes, limit %d",
			ErrAllocationFailed, desc.Label, desc.Size, d.caps.Limits.MaxBufferSize)
	}
	if desc.Usage.Has(BufferUsageUniform) && desc.Size > d.caps.Limits.MaxUniformBufferBindingSize {
		return nil, fmt.Errorf("%w: uniform buffer %s is %d bytes, limit %d",
			ErrAllocationFailed, desc.Label, desc.Size, d.caps.Limits.MaxUniformBufferBindingSize)
	}
	if desc.Usage.Has(BufferUsageStorage) && desc.Size > d.caps.Limits.MaxStorageBufferBindingSize {
		return nil, fmt.Errorf("%w: storage buffer %s is %d bytes, limit %d",
			ErrAllocationFailed, desc.Label, desc.Size, d.caps.Limits.MaxStorageBufferBindingSize)
	}

	words := (desc.Size + 3) / 4
	buf := &Buffer{
		label:  desc.Label,
		size:   desc.Size,
		usage:  desc.Usage,
		device: d,
		words:  make([]uint32, words),
	}

	d.mu.Lock()
	d.allocated += desc.Size
	total := d.allocated
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"buffer":    desc.Label,
		"bytes":     desc.Size,
		"usage":     desc.Usage.String(),
		"allocated": total,
	}).Debug("buffer created")
	return buf, nil
}

// Allocated returns the number of bytes held by live buffers.
func (d *Device) Allocated() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// CreateProgram validates a program against the device limits.
func (d *Device) CreateProgram(desc ProgramDescriptor) (*Program, error) {
	if d.IsLost() {
		return nil, ErrDeviceLost
	}
	prog, err := validateProgram(desc, d.caps.Limits)
	if err != nil {
		return nil, err
	}
	d.log.WithFields(logrus.Fields{
		"program":        desc.Label,
		"workgroup_size": desc.WorkgroupSize,
		"bindings":       len(desc.Bindings),
		"source_bytes":   len(desc.Source),
	}).Debug("program compiled")
	return prog, nil
}

// CreateComputePipeline builds a pipeline from a validated program.
func (d *Device) CreateComputePipeline(label string, prog *Program) (*ComputePipeline, error) {
	if d.IsLost() {
		return nil, ErrDeviceLost
	}
	if prog == nil {
		return nil, fmt.Errorf("%w: pipeline %s has no program", ErrInvalidProgram, label)
	}
	return &ComputePipeline{label: label, program: prog, device: d}, nil
}

// CreateBindGroup binds buffers to the pipeline's slots.
func (d *Device) CreateBindGroup(pipeline *ComputePipeline, entries map[uint32]*Buffer) (*BindGroup, error) {
	if d.IsLost() {
		return nil, ErrDeviceLost
	}
	if pipeline == nil || pipeline.device != d {
		return nil, fmt.Errorf("%w: pipeline does not belong to device %s", ErrInvalidBinding, d.id)
	}
	return d.newBindGroup(pipeline, entries)
}

func (d *Device) release(buf *Buffer) {
	d.mu.Lock()
	if d.allocated >= buf.size {
		d.allocated -= buf.size
	}
	d.mu.Unlock()
}

// run executes one dispatch, spreading workgroups over the worker pool.
func (d *Device) run(bg *BindGroup, workgroups uint32) error {
	prog := bg.pipeline.program
	bindings := make([][]uint32, len(bg.buffers))
	for i, buf := range bg.buffers {
		if buf == nil {
			continue
		}
		if buf.destroyed.Load() {
			return fmt.Errorf("%w: buffer %s destroyed before dispatch", ErrInvalidBinding, buf.label)
		}
		bindings[i] = buf.words
	}

	wg := prog.workgroupSize
	total := workgroups * wg
	workers := d.workers
	if uint32(workers) > workgroups {
		workers = int(workgroups)
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (workgroups + uint32(workers) - 1) / uint32(workers)

	var g errgroup.Group
	g.SetLimit(workers)
	for start := uint32(0); start < workgroups; start += chunk {
		first := start * wg
		last := min((start+chunk)*wg, total)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("kernel %s faulted: %v", prog.label, r)
				}
			}()
			for id := first; id < last; id++ {
				prog.kernel(id, bindings)
			}
			return nil
		})
	}
	return g.Wait()
}

// Buffer is device memory. Host code only touches it through the Queue.
type Buffer struct {
	label     string
	size      uint64
	usage     BufferUsage
	device    *Device
	words     []uint32
	destroyed atomic.Bool
}

func (b *Buffer) Label() string      { return b.label }
func (b *Buffer) Size() uint64       { return b.size }
func (b *Buffer) Usage() BufferUsage { return b.usage }

// Destroy releases the buffer. It is safe to call more than once.
func (b *Buffer) Destroy() {
	if b == nil || !b.destroyed.CompareAndSwap(false, true) {
		return
	}
	b.device.release(b)
}

func (b *Buffer) writeBytes(offset uint64, data []byte) {
	// offset and len(data) are multiples of 4, checked at enqueue time
	w := offset / 4
	for i := 0; i+4 <= len(data); i += 4 {
		b.words[w] = binary.LittleEndian.Uint32(data[i:])
		w++
	}
}

func (b *Buffer) readBytes(offset uint64, dst []byte) {
	w := offset / 4
	for i := 0; i+4 <= len(dst); i += 4 {
		binary.LittleEndian.PutUint32(dst[i:], b.words[w])
		w++
	}
}

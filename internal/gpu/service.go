package gpu

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Service owns the process's active compute device. It is constructed
// explicitly and handed to the components that need a device.
type Service struct {
	backend Backend
	log     logrus.FieldLogger

	init singleflight.Group

	mu      sync.Mutex
	device  *Device
	subs    map[uint64]func(DeviceLostInfo)
	nextSub uint64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used by the service and its devices.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a service that acquires devices from backend.
func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		log:     logrus.StandardLogger(),
		subs:    make(map[uint64]func(DeviceLostInfo)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize returns the active device, acquiring one if needed. Concurrent
// callers share a single in-flight request.
func (s *Service) Initialize(ctx context.Context) (*Device, error) {
	if d := s.current(); d != nil {
		return d, nil
	}
	v, err, shared := s.init.Do("device", func() (any, error) {
		if d := s.current(); d != nil {
			return d, nil
		}
		return s.open(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.WithField("component", "gpu").Debug("joined in-flight device request")
	}
	return v.(*Device), nil
}

func (s *Service) open(ctx context.Context) (*Device, error) {
	if s.backend == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrDeviceUnavailable)
	}
	d, err := s.backend.Open(ctx, s.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, s.backend.Name(), err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s returned no device", ErrDeviceUnavailable, s.backend.Name())
	}
	d.onLost = func(info DeviceLostInfo) { s.handleLost(d, info) }

	s.mu.Lock()
	s.device = d
	s.mu.Unlock()

	caps := d.Capabilities()
	s.log.WithFields(logrus.Fields{
		"component":     "gpu",
		"device":        d.ID(),
		"backend":       caps.Backend,
		"adapter":       caps.AdapterName,
		"max_buffer":    caps.Limits.MaxBufferSize,
		"max_storage":   caps.Limits.MaxStorageBufferBindingSize,
		"max_workgroup": caps.Limits.MaxComputeWorkgroupSizeX,
		"shader_f16":    caps.Has(FeatureShaderF16),
	}).Info("device acquired")
	return d, nil
}

func (s *Service) current() *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil && !s.device.IsLost() {
		return s.device
	}
	return nil
}

// Device returns the active device, if any.
func (s *Service) Device() (*Device, bool) {
	d := s.current()
	return d, d != nil
}

// Capabilities describes the active device.
func (s *Service) Capabilities() (Capabilities, error) {
	d := s.current()
	if d == nil {
		return Capabilities{}, ErrDeviceUnavailable
	}
	return d.Capabilities(), nil
}

// CreateBuffer allocates a buffer on the active device.
func (s *Service) CreateBuffer(desc BufferDescriptor) (*Buffer, error) {
	d := s.current()
	if d == nil {
		return nil, ErrDeviceUnavailable
	}
	return d.CreateBuffer(desc)
}

// CreateComputePipeline validates desc and builds a pipeline for it on the
// active device.
func (s *Service) CreateComputePipeline(desc ProgramDescriptor) (*ComputePipeline, error) {
	d := s.current()
	if d == nil {
		return nil, ErrDeviceUnavailable
	}
	prog, err := d.CreateProgram(desc)
	if err != nil {
		return nil, err
	}
	return d.CreateComputePipeline(desc.Label, prog)
}

// OnDeviceLost registers fn to be called, asynchronously, when the active
// device is lost or destroyed. The returned function unsubscribes.
func (s *Service) OnDeviceLost(fn func(DeviceLostInfo)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) handleLost(d *Device, info DeviceLostInfo) {
	s.mu.Lock()
	if s.device == d {
		s.device = nil
	}
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]func(DeviceLostInfo), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	go func() {
		for _, fn := range subs {
			fn(info)
		}
	}()
}

// Cleanup destroys the active device. Subscribers are notified.
func (s *Service) Cleanup() {
	s.mu.Lock()
	d := s.device
	s.mu.Unlock()
	if d != nil {
		d.Destroy()
	}
}

// Reset destroys the active device and drops every subscriber, returning the
// service to the state NewService left it in.
func (s *Service) Reset() {
	s.mu.Lock()
	s.subs = make(map[uint64]func(DeviceLostInfo))
	s.nextSub = 0
	s.mu.Unlock()
	s.Cleanup()
	s.init.Forget("device")
}

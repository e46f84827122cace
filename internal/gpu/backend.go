package gpu

import (
	"context"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Backend acquires devices. The Service owns at most one device from its
// backend at a time.
type Backend interface {
	Name() string
	Open(ctx context.Context, log logrus.FieldLogger) (*Device, error)
}

// SoftwareBackend runs compute programs on the host CPU. Workgroups are
// spread across Workers goroutines; the command queue is asynchronous and
// ordered like a hardware queue.
type SoftwareBackend struct {
	AdapterName string
	Limits      Limits
	Features    Feature
	Workers     int
}

// NewSoftwareBackend returns a backend with WebGPU baseline limits.
func NewSoftwareBackend() *SoftwareBackend {
	return &SoftwareBackend{
		AdapterName: "software rasterizer",
		Limits:      DefaultLimits(),
		Workers:     runtime.GOMAXPROCS(0),
	}
}

func (b *SoftwareBackend) Name() string { return "software" }

// Open creates a device. It only fails if ctx is already done.
func (b *SoftwareBackend) Open(ctx context.Context, log logrus.FieldLogger) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limits := b.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	name := b.AdapterName
	if name == "" {
		name = "software rasterizer"
	}
	caps := Capabilities{
		Backend:     b.Name(),
		AdapterName: name,
		Limits:      limits,
		Features:    b.Features,
	}
	return newDevice(caps, b.Workers, log), nil
}

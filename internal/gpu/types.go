package gpu

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDeviceUnavailable is returned when no compatible device can be acquired.
	ErrDeviceUnavailable = errors.New("gpu: no compatible device available")
	// ErrAllocationFailed is returned when a resource exceeds device limits.
	ErrAllocationFailed = errors.New("gpu: allocation exceeds device limits")
	// ErrDeviceLost is returned by every operation on a lost or destroyed device.
	ErrDeviceLost = errors.New("gpu: device lost")
	// ErrInvalidProgram is returned when a program fails validation.
	ErrInvalidProgram = errors.New("gpu: invalid program")
	// ErrInvalidBinding is returned when a bind group does not match its layout.
	ErrInvalidBinding = errors.New("gpu: invalid binding")
)

// BufferUsage is a bit set describing how a buffer may be used.
type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageVertex
)

// Has reports whether all bits of u2 are set in u.
func (u BufferUsage) Has(u2 BufferUsage) bool {
	return u&u2 == u2
}

func (u BufferUsage) String() string {
	if u == 0 {
		return "none"
	}
	names := []string{"storage", "uniform", "copy-src", "copy-dst", "vertex"}
	var parts []string
	for i, name := range names {
		if u&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// Feature is an optional device capability.
type Feature uint32

const (
	FeatureShaderF16 Feature = 1 << iota
	FeatureTimestampQuery
	FeatureFloat32Filterable
)

// Limits mirrors the subset of WebGPU limits the visualizer cares about.
type Limits struct {
	MaxBufferSize                    uint64
	MaxStorageBufferBindingSize      uint64
	MaxUniformBufferBindingSize      uint64
	MaxComputeWorkgroupSizeX         uint32
	MaxComputeInvocationsPerGroup    uint32
	MaxComputeWorkgroupsPerDimension uint32
	MaxTextureDimension2D            uint32
}

// DefaultLimits returns the WebGPU baseline limits.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferSize:                    256 << 20,
		MaxStorageBufferBindingSize:      128 << 20,
		MaxUniformBufferBindingSize:      64 << 10,
		MaxComputeWorkgroupSizeX:         256,
		MaxComputeInvocationsPerGroup:    256,
		MaxComputeWorkgroupsPerDimension: 65535,
		MaxTextureDimension2D:            8192,
	}
}

// Capabilities describes an acquired device.
type Capabilities struct {
	Backend     string
	AdapterName string
	Limits      Limits
	Features    Feature
}

// Has reports whether the device exposes the optional feature f.
func (c Capabilities) Has(f Feature) bool {
	return c.Features&f == f
}

// DeviceLostReason tells subscribers why a device went away.
type DeviceLostReason int

const (
	DeviceLostReasonUnknown DeviceLostReason = iota
	DeviceLostReasonDestroyed
)

func (r DeviceLostReason) String() string {
	switch r {
	case DeviceLostReasonDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// DeviceLostInfo is delivered to device-lost subscribers.
type DeviceLostInfo struct {
	DeviceID string
	Reason   DeviceLostReason
	Message  string
}

func (i DeviceLostInfo) String() string {
	return fmt.Sprintf("device %s lost (%s): %s", i.DeviceID, i.Reason, i.Message)
}

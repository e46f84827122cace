package gpu

import (
	"fmt"
	"regexp"
	"strconv"
)

// BindingType is the kind of resource bound at a slot.
type BindingType int

const (
	BindingUniform BindingType = iota
	BindingReadOnlyStorage
	BindingStorage
)

func (t BindingType) String() string {
	switch t {
	case BindingUniform:
		return "uniform"
	case BindingReadOnlyStorage:
		return "read-only-storage"
	case BindingStorage:
		return "storage"
	default:
		return fmt.Sprintf("BindingType(%d)", int(t))
	}
}

// BindingLayout declares one @group(0) @binding(N) slot.
type BindingLayout struct {
	Binding uint32
	Type    BindingType
}

// Kernel is the host implementation of a compute entry point. It is called
// once per invocation with the bound buffers as little-endian 32-bit words,
// indexed by binding slot.
type Kernel func(globalID uint32, bindings [][]uint32)

// ProgramDescriptor describes a compute program. Source holds the WGSL text a
// hardware backend compiles; Kernel is what the software backend executes.
type ProgramDescriptor struct {
	Label         string
	Source        string
	EntryPoint    string
	WorkgroupSize uint32
	Bindings      []BindingLayout
	Kernel        Kernel
}

// Program is a validated compute program.
type Program struct {
	label         string
	entryPoint    string
	workgroupSize uint32
	bindings      []BindingLayout
	kernel        Kernel
}

func (p *Program) Label() string             { return p.label }
func (p *Program) WorkgroupSize() uint32     { return p.workgroupSize }
func (p *Program) Bindings() []BindingLayout { return append([]BindingLayout(nil), p.bindings...) }

var (
	wgslWorkgroupSize = regexp.MustCompile(`@compute\s+@workgroup_size\(\s*([A-Za-z_0-9]+)\s*\)\s*fn\s+([A-Za-z_][A-Za-z_0-9]*)\s*\(`)
	wgslBinding       = regexp.MustCompile(`@group\(0\)\s*@binding\((\d+)\)\s*var<\s*(uniform|storage(?:\s*,\s*(read|read_write))?)\s*>`)
	wgslOverride      = `override\s+%s\s*:`
)

func validateProgram(desc ProgramDescriptor, limits Limits) (*Program, error) {
	if desc.Kernel == nil {
		return nil, fmt.Errorf("%w: %s: missing kernel", ErrInvalidProgram, desc.Label)
	}
	if desc.EntryPoint == "" {
		desc.EntryPoint = "main"
	}
	if desc.WorkgroupSize == 0 {
		return nil, fmt.Errorf("%w: %s: workgroup size must be positive", ErrInvalidProgram, desc.Label)
	}
	if desc.WorkgroupSize > limits.MaxComputeWorkgroupSizeX || desc.WorkgroupSize > limits.MaxComputeInvocationsPerGroup {
		return nil, fmt.Errorf("%w: %s: workgroup size %d exceeds device limit %d",
			ErrAllocationFailed, desc.Label, desc.WorkgroupSize, limits.MaxComputeWorkgroupSizeX)
	}

	match := wgslWorkgroupSize.FindStringSubmatch(desc.Source)
	if match == nil || match[2] != desc.EntryPoint {
		return nil, fmt.Errorf("%w: %s: entry point %q not declared as @compute", ErrInvalidProgram, desc.Label, desc.EntryPoint)
	}
	if n, err := strconv.ParseUint(match[1], 10, 32); err == nil {
		if uint32(n) != desc.WorkgroupSize {
			return nil, fmt.Errorf("%w: %s: shader workgroup size %d, descriptor %d",
				ErrInvalidProgram, desc.Label, n, desc.WorkgroupSize)
		}
	} else if !regexp.MustCompile(fmt.Sprintf(wgslOverride, regexp.QuoteMeta(match[1]))).MatchString(desc.Source) {
		return nil, fmt.Errorf("%w: %s: workgroup size %q is not an override constant", ErrInvalidProgram, desc.Label, match[1])
	}

	declared := make(map[uint32]BindingType)
	for _, m := range wgslBinding.FindAllStringSubmatch(desc.Source, -1) {
		slot, _ := strconv.ParseUint(m[1], 10, 32)
		switch {
		case m[2] == "uniform":
			declared[uint32(slot)] = BindingUniform
		case m[3] == "read_write":
			declared[uint32(slot)] = BindingStorage
		default:
			declared[uint32(slot)] = BindingReadOnlyStorage
		}
	}
	if len(declared) != len(desc.Bindings) {
		return nil, fmt.Errorf("%w: %s: shader declares %d bindings, layout has %d",
			ErrInvalidProgram, desc.Label, len(declared), len(desc.Bindings))
	}
	for _, b := range desc.Bindings {
		got, ok := declared[b.Binding]
		if !ok {
			return nil, fmt.Errorf("%w: %s: binding %d missing from shader", ErrInvalidProgram, desc.Label, b.Binding)
		}
		if got != b.Type {
			return nil, fmt.Errorf("%w: %s: binding %d is %s in shader, %s in layout",
				ErrInvalidProgram, desc.Label, b.Binding, got, b.Type)
		}
	}

	return &Program{
		label:         desc.Label,
		entryPoint:    desc.EntryPoint,
		workgroupSize: desc.WorkgroupSize,
		bindings:      append([]BindingLayout(nil), desc.Bindings...),
		kernel:        desc.Kernel,
	}, nil
}

// ComputePipeline pairs a program with its binding layout.
type ComputePipeline struct {
	label   string
	program *Program
	device  *Device
}

func (p *ComputePipeline) Label() string     { return p.label }
func (p *ComputePipeline) Program() *Program { return p.program }

// BindGroup binds buffers to a pipeline's slots.
type BindGroup struct {
	pipeline *ComputePipeline
	buffers  []*Buffer // indexed by binding slot
}

func (d *Device) newBindGroup(pipeline *ComputePipeline, entries map[uint32]*Buffer) (*BindGroup, error) {
	layout := pipeline.program.bindings
	maxSlot := uint32(0)
	for _, b := range layout {
		if b.Binding > maxSlot {
			maxSlot = b.Binding
		}
	}
	bufs := make([]*Buffer, maxSlot+1)
	for _, b := range layout {
		buf, ok := entries[b.Binding]
		if !ok || buf == nil {
			return nil, fmt.Errorf("%w: %s: nothing bound at slot %d", ErrInvalidBinding, pipeline.label, b.Binding)
		}
		if buf.device != d {
			return nil, fmt.Errorf("%w: %s: buffer %s belongs to another device", ErrInvalidBinding, pipeline.label, buf.label)
		}
		switch b.Type {
		case BindingUniform:
			if !buf.usage.Has(BufferUsageUniform) {
				return nil, fmt.Errorf("%w: %s: buffer %s lacks uniform usage", ErrInvalidBinding, pipeline.label, buf.label)
			}
			if buf.size > d.caps.Limits.MaxUniformBufferBindingSize {
				return nil, fmt.Errorf("%w: %s: uniform buffer %s is %d bytes", ErrAllocationFailed, pipeline.label, buf.label, buf.size)
			}
		default:
			if !buf.usage.Has(BufferUsageStorage) {
				return nil, fmt.Errorf("%w: %s: buffer %s lacks storage usage", ErrInvalidBinding, pipeline.label, buf.label)
			}
			if buf.size > d.caps.Limits.MaxStorageBufferBindingSize {
				return nil, fmt.Errorf("%w: %s: storage buffer %s is %d bytes", ErrAllocationFailed, pipeline.label, buf.label, buf.size)
			}
		}
		bufs[b.Binding] = buf
	}
	return &BindGroup{pipeline: pipeline, buffers: bufs}, nil
}

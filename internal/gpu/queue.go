package gpu

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type commandKind int

const (
	cmdWrite commandKind = iota
	cmdDispatch
	cmdRead
	cmdFence
)

type command struct {
	kind       commandKind
	buf        *Buffer
	offset     uint64
	data       []byte
	bindGroup  *BindGroup
	workgroups uint32
	reply      chan error
}

// Queue submits work to a device. Commands execute asynchronously but
// strictly in the order they were enqueued.
type Queue struct {
	device *Device
	cmds   chan command
	done   chan struct{}
}

func newQueue(d *Device) *Queue {
	q := &Queue{
		device: d,
		cmds:   make(chan command, queueDepth),
		done:   make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		select {
		case <-q.device.lostCh:
			q.drain()
			return
		case cmd := <-q.cmds:
			q.execute(cmd)
		}
	}
}

// drain fails every pending waiter once the device is gone.
func (q *Queue) drain() {
	for {
		select {
		case cmd := <-q.cmds:
			if cmd.reply != nil {
				cmd.reply <- ErrDeviceLost
			}
		default:
			return
		}
	}
}

func (q *Queue) execute(cmd command) {
	switch cmd.kind {
	case cmdWrite:
		if !cmd.buf.destroyed.Load() {
			cmd.buf.writeBytes(cmd.offset, cmd.data)
		}
	case cmdDispatch:
		start := time.Now()
		if err := q.device.run(cmd.bindGroup, cmd.workgroups); err != nil {
			q.device.Lose(err.Error())
			return
		}
		q.device.log.WithFields(logrus.Fields{
			"pipeline":   cmd.bindGroup.pipeline.label,
			"workgroups": cmd.workgroups,
			"elapsed":    time.Since(start),
		}).Trace("dispatch complete")
	case cmdRead:
		var err error
		if cmd.buf.destroyed.Load() {
			err = fmt.Errorf("%w: buffer %s destroyed", ErrInvalidBinding, cmd.buf.label)
		} else {
			cmd.buf.readBytes(cmd.offset, cmd.data)
		}
		cmd.reply <- err
	case cmdFence:
		cmd.reply <- nil
	}
}

func (q *Queue) enqueue(cmd command) error {
	if q.device.IsLost() {
		return ErrDeviceLost
	}
	select {
	case q.cmds <- cmd:
		return nil
	case <-q.device.lostCh:
		return ErrDeviceLost
	}
}

func (q *Queue) checkRange(buf *Buffer, offset uint64, n int) error {
	if buf == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidBinding)
	}
	if buf.device != q.device {
		return fmt.Errorf("%w: buffer %s belongs to another device", ErrInvalidBinding, buf.label)
	}
	if buf.destroyed.Load() {
		return fmt.Errorf("%w: buffer %s destroyed", ErrInvalidBinding, buf.label)
	}
	if offset%4 != 0 || n%4 != 0 {
		return fmt.Errorf("%w: buffer %s access at %d+%d is not 4-byte aligned", ErrInvalidBinding, buf.label, offset, n)
	}
	if offset+uint64(n) > buf.size {
		return fmt.Errorf("%w: buffer %s access at %d+%d exceeds size %d", ErrInvalidBinding, buf.label, offset, n, buf.size)
	}
	return nil
}

// WriteBuffer copies data and schedules it to land in buf at offset. It does
// not wait for the write to complete.
func (q *Queue) WriteBuffer(buf *Buffer, offset uint64, data []byte) error {
	if err := q.checkRange(buf, offset, len(data)); err != nil {
		return err
	}
	if !buf.usage.Has(BufferUsageCopyDst) {
		return fmt.Errorf("%w: buffer %s lacks copy-dst usage", ErrInvalidBinding, buf.label)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return q.enqueue(command{kind: cmdWrite, buf: buf, offset: offset, data: cp})
}

// Dispatch schedules workgroups invocations groups of the bound pipeline.
func (q *Queue) Dispatch(bg *BindGroup, workgroups uint32) error {
	if bg == nil {
		return fmt.Errorf("%w: nil bind group", ErrInvalidBinding)
	}
	if bg.pipeline.device != q.device {
		return fmt.Errorf("%w: bind group belongs to another device", ErrInvalidBinding)
	}
	if workgroups == 0 {
		return nil
	}
	if workgroups > q.device.caps.Limits.MaxComputeWorkgroupsPerDimension {
		return fmt.Errorf("%w: %d workgroups exceeds limit %d",
			ErrAllocationFailed, workgroups, q.device.caps.Limits.MaxComputeWorkgroupsPerDimension)
	}
	return q.enqueue(command{kind: cmdDispatch, bindGroup: bg, workgroups: workgroups})
}

// ReadBuffer copies len(dst) bytes from buf at offset into dst once every
// previously submitted command has executed.
func (q *Queue) ReadBuffer(ctx context.Context, buf *Buffer, offset uint64, dst []byte) error {
	if err := q.checkRange(buf, offset, len(dst)); err != nil {
		return err
	}
	if !buf.usage.Has(BufferUsageCopySrc) {
		return fmt.Errorf("%w: buffer %s lacks copy-src usage", ErrInvalidBinding, buf.label)
	}
	staging := make([]byte, len(dst))
	reply := make(chan error, 1)
	if err := q.enqueue(command{kind: cmdRead, buf: buf, offset: offset, data: staging, reply: reply}); err != nil {
		return err
	}
	if err := q.wait(ctx, reply); err != nil {
		return err
	}
	copy(dst, staging)
	return nil
}

// Flush waits until every previously submitted command has executed.
func (q *Queue) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := q.enqueue(command{kind: cmdFence, reply: reply}); err != nil {
		return err
	}
	return q.wait(ctx, reply)
}

func (q *Queue) wait(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-q.done:
		// the loop may have answered just before exiting
		select {
		case err := <-reply:
			return err
		default:
			return ErrDeviceLost
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

package app

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// profiler appends per-stage frame timings to a CSV file. A nil profiler is
// a no-op.
type profiler struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	start  time.Time
	last   time.Time
	frame  uint64
	stages map[string]time.Duration
}

func newProfiler(path string, log logrus.FieldLogger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.WithError(err).Warn("profiler disabled")
		return nil
	}
	p := &profiler{
		file:   f,
		w:      bufio.NewWriter(f),
		stages: make(map[string]time.Duration),
	}
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		fmt.Fprintln(p.w, "timestamp,frame,section,delta_ms")
	}
	log.WithField("path", path).Info("frame profiling enabled")
	return p
}

func (p *profiler) beginFrame() {
	if p == nil {
		return
	}
	now := time.Now()
	p.start = now
	p.last = now
	p.frame++
}

func (p *profiler) markSection(name string) {
	if p == nil {
		return
	}
	now := time.Now()
	delta := now.Sub(p.last)
	p.last = now
	p.stages[name] += delta
	p.write(name, delta)
}

func (p *profiler) endFrame() {
	if p == nil {
		return
	}
	p.write("frame_total", time.Since(p.start))
}

// total returns the accumulated time spent in a section.
func (p *profiler) total(name string) time.Duration {
	if p == nil {
		return 0
	}
	return p.stages[name]
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.w.Flush(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}

func (p *profiler) write(section string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s,%d,%s,%.3f\n", time.Now().Format(time.RFC3339Nano), p.frame, section, d.Seconds()*1000)
}

package audio

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

// Source yields the most recent time-domain window of mono samples.
type Source interface {
	Samples() []float32
	SampleRate() float64
	Close() error
}

// Capture wraps a PortAudio input stream and keeps the latest window of
// mono samples in a ring buffer.
type Capture struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo
	log        logrus.FieldLogger

	mu     sync.RWMutex
	buffer []float32
	index  int
	mono   []float32
}

// Config controls how a Capture instance is created.
type Config struct {
	DeviceName string
	BufferSize int
	Channels   int
	Log        logrus.FieldLogger
}

const defaultBufferSize = 2048

// NewCapture opens and starts a PortAudio input stream.
func NewCapture(cfg Config) (*Capture, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	log := cfg.Log.WithField("component", "audio")

	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}

	c := newRing(cfg.BufferSize, cfg.Channels)
	c.sampleRate = device.DefaultSampleRate
	c.device = device
	c.log = log

	framesPerBuffer := len(c.buffer) / cfg.Channels
	if framesPerBuffer < 64 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      c.sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, c.process)
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", device.Name, err)
	}
	c.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start stream on %q: %w", device.Name, err)
	}

	log.WithFields(logrus.Fields{
		"device":      device.Name,
		"sample_rate": c.sampleRate,
		"channels":    cfg.Channels,
		"window":      cfg.BufferSize,
	}).Info("audio capture started")
	return c, nil
}

func newRing(size, channels int) *Capture {
	return &Capture{
		buffer:   make([]float32, size),
		channels: channels,
	}
}

// Close stops and closes the stream.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil && !isInvalidStreamState(err) {
		return fmt.Errorf("stop stream: %w", err)
	}
	c.log.WithField("device", c.DeviceName()).Debug("audio capture stopped")
	return c.stream.Close()
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// DeviceName returns the name of the capture device.
func (c *Capture) DeviceName() string {
	if c.device == nil {
		return ""
	}
	return c.device.Name
}

// Samples returns a copy of the window, oldest sample first.
func (c *Capture) Samples() []float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := make([]float32, len(c.buffer))
	n := copy(cp, c.buffer[c.index:])
	copy(cp[n:], c.buffer[:c.index])
	return cp
}

// process runs on the PortAudio callback thread.
func (c *Capture) process(in []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channels > 1 {
		frames := len(in) / c.channels
		if cap(c.mono) < frames {
			c.mono = make([]float32, frames)
		}
		mono := c.mono[:frames]
		for i := range mono {
			sum := float32(0)
			base := i * c.channels
			for ch := 0; ch < c.channels; ch++ {
				sum += in[base+ch]
			}
			mono[i] = sum / float32(c.channels)
		}
		in = mono
	}
	c.write(in)
}

func (c *Capture) write(in []float32) {
	if len(in) == 0 {
		return
	}
	if len(in) >= len(c.buffer) {
		copy(c.buffer, in[len(in)-len(c.buffer):])
		c.index = 0
		return
	}
	n := copy(c.buffer[c.index:], in)
	if n < len(in) {
		copy(c.buffer, in[n:])
	}
	c.index = (c.index + len(in)) % len(c.buffer)
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	if best := pickBestDevice(devices); best != nil {
		return best, nil
	}
	return nil, fmt.Errorf("no suitable audio input device found")
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	name = strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels > 0 && strings.Contains(strings.ToLower(device.Name), name) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("audio device %q not found", name)
}

func pickBestDevice(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	defaultIn := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultIn = def.Index
	}
	hostDefault := -1
	if host, err := portaudio.DefaultHostApi(); err == nil && host != nil && host.DefaultInputDevice != nil {
		hostDefault = host.DefaultInputDevice.Index
	}

	type scored struct {
		dev   *portaudio.DeviceInfo
		score int
	}
	var results []scored
	for _, d := range devices {
		if d == nil {
			continue
		}
		score := inputScore(d.Name, d.MaxInputChannels, d.Index == defaultIn, d.Index == hostDefault)
		if score < 0 {
			continue
		}
		results = append(results, scored{dev: d, score: score})
	}
	if len(results) == 0 {
		return nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return strings.ToLower(results[i].dev.Name) < strings.ToLower(results[j].dev.Name)
		}
		return results[i].score > results[j].score
	})
	return results[0].dev
}

// isInvalidStreamState reports whether err comes from stopping a stream that
// already stopped.
func isInvalidStreamState(err error) bool {
	return err != nil && strings.Contains(err.Error(), "PaErrorCode -9986")
}

// AutoDetectDevice reports the input NewCapture picks without a device name.
func AutoDetectDevice() (*portaudio.DeviceInfo, error) {
	return findDevice("")
}

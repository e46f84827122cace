package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/guidoenr/particlizer/internal/analyzer"
	"github.com/guidoenr/particlizer/internal/audio"
	"github.com/guidoenr/particlizer/internal/config"
	"github.com/guidoenr/particlizer/internal/gpu"
	"github.com/guidoenr/particlizer/internal/metrics"
	"github.com/guidoenr/particlizer/internal/params"
	"github.com/guidoenr/particlizer/internal/particles"
	"github.com/guidoenr/particlizer/internal/render"
	"github.com/guidoenr/particlizer/internal/web"
	"github.com/sirupsen/logrus"
)

// Config configures the application runtime.
type Config struct {
	DeviceName    string
	BufferSize    int
	DisableAudio  bool
	Width         int
	Height        int
	TargetFPS     float64
	ShowStatusBar bool
	Palette       string
	ColorMode     string
	UseANSI       bool
	Windowed      bool

	Style     string
	Quality   string
	StyleFile string
	WebAddr   string
	Profile   string

	// NoiseFloor gates weak features before they are mapped. Zero disables it.
	NoiseFloor float64

	Engine  particles.Config
	Backend gpu.Backend

	// Interactive owns the terminal: alternate screen, hotkeys and resizing.
	Interactive bool
	Output      io.Writer
	Clock       func() time.Time
	Log         logrus.FieldLogger
	Metrics     *metrics.Metrics
}

type inputEvent int

const (
	inputEventNextStyle inputEvent = iota
	inputEventNextPalette
	inputEventNextColor
	inputEventQuality
	inputEventQuit
)

type keyEvent struct {
	kind    inputEvent
	quality string
}

// App ties audio capture, analysis, parameter mapping, the particle engine
// and rendering into one cooperative frame loop.
type App struct {
	cfg      Config
	log      logrus.FieldLogger
	now      func() time.Time
	out      *bufio.Writer
	metrics  *metrics.Metrics
	profiler *profiler

	source      audio.Source
	deviceLabel string
	spectrum    *audio.Spectrum
	extractor   *analyzer.Extractor
	svc         *gpu.Service
	engine      *particles.Engine
	renderer    *render.Renderer
	watcher     *config.Watcher
	server      *web.Server

	// mu guards everything the control surfaces read or change.
	mu            sync.Mutex
	smoother      *params.Smoother
	features      analyzer.Features
	current       params.Parameters
	fps           float64
	noiseFloor    float64
	pendingRender *[2]string

	bins        [particles.SpectrumBins]float32
	snapshot    []particles.Record
	last        time.Time
	width       int
	height      int
	inputEvents chan keyEvent
	lostSeen    bool
	inputErrors uint64
}

// New constructs the application: opens the audio source, initializes the
// compute device and the particle engine, and prepares the renderer.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 30
	}
	if cfg.Width <= 0 {
		cfg.Width = 80
	}
	if cfg.Height <= 0 {
		cfg.Height = 24
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Backend == nil {
		cfg.Backend = gpu.NewSoftwareBackend()
	}

	style, quality, err := resolvePresets(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		log:        cfg.Log.WithField("component", "app"),
		now:        cfg.Clock,
		out:        bufio.NewWriterSize(cfg.Output, 1<<16),
		metrics:    cfg.Metrics,
		smoother:   params.NewSmoother(style, quality),
		current:    cfg.Engine.Parameters(),
		noiseFloor: cfg.NoiseFloor,
		width:      cfg.Width,
		height:     cfg.Height,
	}
	a.profiler = newProfiler(cfg.Profile, a.log)

	if err := a.openSource(); err != nil {
		a.Close()
		return nil, err
	}
	a.spectrum = audio.NewSpectrum(cfg.BufferSize)
	a.extractor = analyzer.New(analyzer.Config{Clock: cfg.Clock, Log: cfg.Log})

	a.svc = gpu.NewService(cfg.Backend, gpu.WithLogger(cfg.Log))
	a.engine = particles.NewEngine(a.svc)
	engineCfg := cfg.Engine
	if engineCfg.Log == nil {
		engineCfg.Log = cfg.Log
	}
	if err := a.engine.Initialize(ctx, engineCfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("particle engine: %w", err)
	}
	a.svc.OnDeviceLost(func(info gpu.DeviceLostInfo) {
		if a.metrics != nil {
			a.metrics.DeviceLost.Inc()
		}
	})

	a.renderer, err = render.New(cfg.Width, a.renderHeight(cfg.Height), cfg.Palette, cfg.ColorMode, cfg.UseANSI, cfg.Windowed)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.StyleFile != "" {
		if err := a.loadStyleFile(cfg.StyleFile); err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.WebAddr != "" {
		a.server = web.NewServer(a, a.metrics, cfg.Log)
	}

	a.last = a.now()
	a.log.WithFields(logrus.Fields{
		"style":     style.Name,
		"quality":   quality.Name,
		"particles": a.engine.Count(),
		"source":    a.sourceLabel(),
	}).Info("visualizer ready")
	return a, nil
}

func resolvePresets(cfg Config) (params.Style, params.Quality, error) {
	styleName := cfg.Style
	if styleName == "" {
		styleName = "calm"
	}
	style, err := params.LookupStyle(styleName)
	if err != nil {
		return params.Style{}, params.Quality{}, err
	}
	qualityName := cfg.Quality
	if qualityName == "" {
		qualityName = "balanced"
	}
	quality, err := params.LookupQuality(qualityName)
	if err != nil {
		return params.Style{}, params.Quality{}, err
	}
	return style, quality, nil
}

func (a *App) openSource() error {
	if a.cfg.DisableAudio {
		a.source = audio.NewSynth(audio.SynthConfig{Window: a.cfg.BufferSize, Now: a.cfg.Clock})
		a.log.Info("audio disabled, using synthetic source")
		return nil
	}
	if err := audio.Initialize(); err != nil {
		return err
	}
	capture, err := audio.NewCapture(audio.Config{
		DeviceName: a.cfg.DeviceName,
		BufferSize: a.cfg.BufferSize,
		Channels:   2,
		Log:        a.cfg.Log,
	})
	if err != nil {
		audio.Terminate()
		return fmt.Errorf("audio capture: %w", err)
	}
	a.source = capture
	a.deviceLabel = capture.DeviceName()
	return nil
}

func (a *App) sourceLabel() string {
	if a.deviceLabel != "" {
		return a.deviceLabel
	}
	return "synthetic"
}

func (a *App) renderHeight(height int) int {
	if a.cfg.ShowStatusBar && height > 1 {
		height--
	}
	if height <= 0 {
		height = 1
	}
	return height
}

// Run drives the frame loop until ctx is cancelled, the user quits or the
// window closes.
func (a *App) Run(ctx context.Context) error {
	frameDuration := time.Duration(float64(time.Second) / a.cfg.TargetFPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.server != nil {
		go func() {
			if err := a.server.Run(runCtx, a.cfg.WebAddr); err != nil {
				a.log.WithError(err).Error("control panel stopped")
			}
		}()
	}
	if a.watcher != nil {
		go func() {
			if err := a.watcher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.WithError(err).Warn("style watcher stopped")
			}
		}()
	}

	if a.cfg.Interactive && !a.renderer.Windowed() {
		enterAltScreen(a.out)
		clearScreen(a.out)
		hideCursor(a.out)
		a.out.Flush()
		defer func() {
			showCursor(a.out)
			exitAltScreen(a.out)
			a.out.Flush()
		}()
	}
	if a.cfg.Interactive {
		a.startInputListener(runCtx)
		a.ensureDimensions()
	}

	lost := a.engine.Lost()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lost:
			lost = nil
			a.metrics.SetEngineState(a.engine.State().String(), engineStates)
			if a.server != nil {
				a.server.Broadcast()
			}
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			if evt.kind == inputEventQuit {
				return nil
			}
			a.handleKey(evt)
		case <-ticker.C:
			if a.cfg.Interactive {
				a.ensureDimensions()
			}
			now := a.now()
			dt := now.Sub(a.last).Seconds()
			if dt <= 0 {
				dt = 1.0 / a.cfg.TargetFPS
			}
			a.last = now
			if err := a.Step(ctx, dt); err != nil {
				if errors.Is(err, render.ErrRendererQuit) {
					return nil
				}
				return err
			}
		}
	}
}

// Step runs one frame: analysis, mapping, smoothing, simulation and drawing.
func (a *App) Step(ctx context.Context, dt float64) error {
	a.profiler.beginFrame()
	frameStart := time.Now()

	start := time.Now()
	frame := a.spectrum.Frame(a.source.Samples(), a.source.SampleRate())
	a.metrics.ObserveStage("capture", start)
	a.profiler.markSection("capture")

	start = time.Now()
	features := a.extractor.Extract(frame.Frequency, frame.Samples, frame.SampleRate)
	a.metrics.ObserveStage("extract", start)
	a.profiler.markSection("extract")

	a.mu.Lock()
	features = analyzer.GateFeatures(features, a.noiseFloor)
	current := a.smoother.Step(params.Map(features), dt)
	a.features = features
	a.current = current
	if dt > 0 {
		a.fps = 1 / dt
	}
	if p := a.pendingRender; p != nil {
		a.renderer.Configure(p[0], p[1])
		a.pendingRender = nil
	}
	styleName := a.smoother.Style().Name
	qualityName := a.smoother.Quality().Name
	fps := a.fps
	a.mu.Unlock()
	a.profiler.markSection("map")

	running := a.engine.State() == particles.StateReady
	if running {
		start = time.Now()
		audio.Reduce(frame.Frequency, a.bins[:])
		a.engine.Update(dt, &a.bins, current)
		a.metrics.ObserveStage("update", start)
	} else if !a.lostSeen {
		a.lostSeen = true
		a.log.WithField("state", a.engine.State().String()).Error("particle engine stopped, continuing with analysis only")
	}
	a.profiler.markSection("update")

	a.snapshot = a.snapshot[:0]
	if running {
		var err error
		a.snapshot, err = a.engine.Snapshot(ctx, a.snapshot)
		if err != nil && !errors.Is(err, gpu.ErrDeviceLost) && !errors.Is(err, particles.ErrInvalidState) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.WithError(err).Warn("snapshot failed")
		}
	}
	a.profiler.markSection("snapshot")

	start = time.Now()
	out := a.renderer.Render(a.snapshot, current, dt, render.Status{
		Style:     styleName,
		Quality:   qualityName,
		Active:    len(a.snapshot),
		FPS:       fps,
		Extra:     a.extraStatus(),
		Features:  features,
		EngineRun: running,
	})
	if err := a.present(out); err != nil {
		return err
	}
	a.metrics.ObserveStage("render", start)
	a.profiler.markSection("render")

	a.record(features)
	a.metrics.ObserveStage("frame", frameStart)
	a.profiler.endFrame()
	return nil
}

func (a *App) extraStatus() string {
	if a.deviceLabel != "" {
		return "mic=" + a.deviceLabel
	}
	return ""
}

func (a *App) present(frame render.Frame) error {
	if frame.Present != nil {
		return frame.Present(frame.Status)
	}
	moveCursorHome(a.out)
	for _, line := range frame.Lines {
		a.out.WriteString(line)
		a.out.WriteByte('\n')
	}
	if a.cfg.ShowStatusBar {
		a.out.WriteString(statusBar(frame.Status, a.width))
		a.out.WriteByte('\n')
	}
	return a.out.Flush()
}

func (a *App) record(f analyzer.Features) {
	m := a.metrics
	if m == nil {
		return
	}
	m.Frames.Inc()
	if f.Onset {
		m.Onsets.Inc()
	}
	m.TempoBPM.Set(f.TempoBPM)
	m.Energy.Set(f.Energy)
	m.Particles.Set(float64(len(a.snapshot)))
	if n := a.extractor.InputErrors(); n > a.inputErrors {
		m.InputErrors.Add(float64(n - a.inputErrors))
		a.inputErrors = n
	}
	m.SetEngineState(a.engine.State().String(), engineStates)
}

var engineStates = []string{
	particles.StateUninitialized.String(),
	particles.StateReady.String(),
	particles.StateUpdating.String(),
	particles.StateDestroyed.String(),
}

// Engine exposes the particle engine, mostly for tests.
func (a *App) Engine() *particles.Engine { return a.engine }

// GPU exposes the device service.
func (a *App) GPU() *gpu.Service { return a.svc }

// Close releases held resources.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.engine != nil && a.engine.State() == particles.StateReady {
		a.engine.Destroy()
	}
	if a.svc != nil {
		a.svc.Cleanup()
	}
	if a.renderer != nil {
		errs = append(errs, a.renderer.Close())
	}
	if a.source != nil {
		errs = append(errs, a.source.Close())
		if _, ok := a.source.(*audio.Capture); ok {
			audio.Terminate()
		}
	}
	errs = append(errs, a.profiler.Close())
	return errors.Join(errs...)
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) >= width {
		return string(runes[:width])
	}
	return text + strings.Repeat(" ", width-len(runes))
}

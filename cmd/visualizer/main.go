package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guidoenr/particlizer/internal/app"
	"github.com/guidoenr/particlizer/internal/audio"
	"github.com/guidoenr/particlizer/internal/metrics"
	"github.com/guidoenr/particlizer/internal/particles"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

func main() {
	var (
		deviceName  = flag.String("audio-device", "", "Optional PortAudio device name (substring match)")
		width       = flag.Int("width", 80, "ASCII frame width")
		height      = flag.Int("height", 24, "ASCII frame height")
		targetFPS   = flag.Float64("fps", 60, "Target frames per second")
		bufferSize  = flag.Int("buffer-size", 2048, "FFT window size (rounded up to a power of two)")
		noAudio     = flag.Bool("no-audio", false, "Run with a synthetic signal")
		debug       = flag.Bool("debug", false, "Enable verbose logging")
		showStatus  = flag.Bool("status", true, "Display status bar")
		palette     = flag.String("palette", "default", "ASCII palette (default|dots|box|spark)")
		colorMode   = flag.String("color-mode", "particle", "Color mode (particle|fire|aurora|mono)")
		listDevs    = flag.Bool("list-audio-devices", false, "List available audio input devices and exit")
		noColor     = flag.Bool("no-color", false, "Disable ANSI color output")
		windowed    = flag.Bool("windowed", false, "Render into an SDL window (requires the sdl build tag)")
		style       = flag.String("style", "calm", "Visual style (calm|energetic|cosmic)")
		quality     = flag.String("quality", "balanced", "Quality preset (high|balanced|eco)")
		styleFile   = flag.String("style-file", "", "YAML style file, reloaded on change")
		webAddr     = flag.String("web", "", "Serve the control panel on this address, e.g. :8080")
		metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address when the panel is off")
		particleN   = flag.Int("particles", particles.DefaultConfig().ParticleCount, "Particle slots on the compute device")
		seed        = flag.Int64("seed", 0, "Initial population seed (0 uses the clock)")
		profilePath = flag.String("profile", "", "Append per-stage frame timings to this CSV file")
		noiseFloor  = flag.Float64("noise-floor", 0, "Ignore band levels at or below this value (0 disables)")
	)

	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if *width <= 0 || *height <= 0 {
		log.Fatalf("invalid dimensions: width=%d height=%d", *width, *height)
	}
	if *targetFPS <= 0 {
		log.Fatalf("fps must be positive (got %.2f)", *targetFPS)
	}
	if *bufferSize <= 0 {
		log.Fatalf("buffer-size must be positive (got %d)", *bufferSize)
	}
	if *noiseFloor < 0 || *noiseFloor >= 1 {
		log.Fatalf("noise-floor must be in [0,1) (got %.2f)", *noiseFloor)
	}
	if *particleN <= 0 {
		log.Fatalf("particles must be positive (got %d)", *particleN)
	}

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			if w > 0 {
				*width = w
			}
			if h > 0 {
				*height = h
			}
		}
	}

	if *listDevs {
		listDevices(log)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	if *metricsAddr != "" && *webAddr == "" {
		srv := metrics.NewServer(*metricsAddr, m)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	engineCfg := particles.DefaultConfig()
	engineCfg.ParticleCount = *particleN
	engineCfg.Seed = *seed

	a, err := app.New(ctx, app.Config{
		DeviceName:    *deviceName,
		BufferSize:    *bufferSize,
		DisableAudio:  *noAudio,
		Width:         *width,
		Height:        *height,
		TargetFPS:     *targetFPS,
		ShowStatusBar: *showStatus,
		Palette:       *palette,
		ColorMode:     *colorMode,
		UseANSI:       !*noColor,
		Windowed:      *windowed,
		Style:         *style,
		Quality:       *quality,
		StyleFile:     *styleFile,
		WebAddr:       *webAddr,
		Profile:       *profilePath,
		NoiseFloor:    *noiseFloor,
		Engine:        engineCfg,
		Interactive:   interactive,
		Log:           log,
		Metrics:       m,
	})
	if err != nil {
		log.Fatalf("failed to create app: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("cleanup error")
		}
	}()

	if err := a.Run(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nExiting...")
			return
		}
		log.Errorf("runtime error: %v", err)
	}
}

func listDevices(log *logrus.Logger) {
	if err := audio.Initialize(); err != nil {
		log.Fatalf("failed to initialize PortAudio: %v", err)
	}
	defer audio.Terminate()

	devices, err := audio.ListDevices()
	if err != nil {
		log.Fatalf("list devices: %v", err)
	}
	fmt.Printf("\n=== Audio Input Devices ===\n\n")
	for _, dev := range devices {
		if dev.MaxInput == 0 {
			continue
		}
		fmt.Printf("- %s\n", dev)
	}
	if dev, err := audio.AutoDetectDevice(); err == nil && dev != nil {
		fmt.Printf("\nAuto-detected input: %s (%.0f Hz, %d channels)\n", dev.Name, dev.DefaultSampleRate, dev.MaxInputChannels)
	}
}

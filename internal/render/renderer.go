package render

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/guidoenr/particlizer/internal/analyzer"
	"github.com/guidoenr/particlizer/internal/params"
	"github.com/guidoenr/particlizer/internal/particles"
)

// ErrRendererQuit is returned by Present when the user closed the window.
var ErrRendererQuit = errors.New("renderer closed")

type colorMode string

const (
	colorModeParticle colorMode = "particle"
	colorModeFire     colorMode = "fire"
	colorModeAurora   colorMode = "aurora"
	colorModeMono     colorMode = "mono"
)

type backendMode int

const (
	backendASCII backendMode = iota
	backendSDL
)

var colorModeNames = []string{
	string(colorModeParticle),
	string(colorModeFire),
	string(colorModeAurora),
	string(colorModeMono),
}

// ColorModeNames returns the supported color modes.
func ColorModeNames() []string {
	out := make([]string, len(colorModeNames))
	copy(out, colorModeNames)
	sort.Strings(out)
	return out
}

func parseColorMode(name string) colorMode {
	switch strings.ToLower(name) {
	case "fire":
		return colorModeFire
	case "aurora", "cool":
		return colorModeAurora
	case "mono", "monochrome", "bw", "gray":
		return colorModeMono
	default:
		return colorModeParticle
	}
}

// Renderer splats particle snapshots into a character grid.
type Renderer struct {
	width       int
	height      int
	palette     []rune
	paletteName string
	colorMode   colorMode
	useANSI     bool
	mode        backendMode
	sdl         *sdlState
	camera      *Camera
	fx          effects

	// per-cell accumulators, row major
	density []float64
	rgb     [][3]float64

	statusBuilder strings.Builder
}

// Frame contains the rendered lines and status text. Present is set by
// windowed backends and shows the frame.
type Frame struct {
	Lines   []string
	Status  string
	Present func(status string) error
}

// Status carries the values shown on the status line.
type Status struct {
	Style     string
	Quality   string
	Active    int
	FPS       float64
	Extra     string
	Features  analyzer.Features
	EngineRun bool
}

var (
	resetANSI       = "\x1b[0m"
	precomputedANSI [256]string
)

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

// New creates a Renderer. windowed selects the SDL backend when it is built in.
func New(width, height int, paletteName, colorModeName string, useANSI, windowed bool) (*Renderer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%d height=%d", width, height)
	}

	r := &Renderer{
		width:   width,
		height:  height,
		useANSI: useANSI,
		camera:  NewCamera(6),
	}
	r.Configure(paletteName, colorModeName)
	if windowed {
		if err := r.initSDL(width, height); err != nil {
			return nil, fmt.Errorf("sdl: %w", err)
		}
	}
	return r, nil
}

// Configure updates palette and color behaviour.
func (r *Renderer) Configure(paletteName, colorModeName string) {
	if paletteName == "" {
		paletteName = "default"
	}
	r.palette = Palette(paletteName)
	r.paletteName = paletteName
	r.colorMode = parseColorMode(colorModeName)
}

// Resize updates the framebuffer dimensions.
func (r *Renderer) Resize(width, height int) {
	changed := false
	if width > 0 && r.width != width {
		r.width = width
		changed = true
	}
	if height > 0 && r.height != height {
		r.height = height
		changed = true
	}
	if changed {
		r.density = nil
		r.rgb = nil
		r.resizeSDL()
	}
}

// Close releases windowed resources.
func (r *Renderer) Close() error { return r.closeSDL() }

func (r *Renderer) PaletteName() string   { return r.paletteName }
func (r *Renderer) ColorModeName() string { return string(r.colorMode) }
func (r *Renderer) Camera() *Camera       { return r.camera }
func (r *Renderer) Windowed() bool        { return r.windowedSDL() }

// Render draws the living particles as seen by the camera after it advances
// by dt.
func (r *Renderer) Render(recs []particles.Record, p params.Parameters, dt float64, st Status) Frame {
	if r.width <= 0 || r.height <= 0 {
		return Frame{}
	}
	r.camera.Update(p, dt)
	r.fx.advance(dt, p.Distortion, p.Glitch)
	r.splat(recs)

	gain := math.Max(0.05, p.Intensity) * (1 + p.Bloom)
	if r.mode == backendSDL {
		return r.renderSDL(p, gain, st)
	}

	lines := make([]string, r.height)
	width := r.width
	height := r.height
	useANSI := r.useANSI

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > height {
		numWorkers = height
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	var wg sync.WaitGroup
	rowJobs := make(chan int, numWorkers)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rowJobs {
				var builder strings.Builder
				builder.Grow(width * 8)
				lastColor := -1
				for x := 0; x < width; x++ {
					char, fg := r.sampleCell(y*width+x, p, gain)
					if useANSI && char != ' ' && fg != lastColor {
						builder.WriteString(colorCode(fg))
						lastColor = fg
					}
					builder.WriteRune(char)
				}
				if useANSI {
					builder.WriteString(resetANSI)
				}
				lines[y] = builder.String()
			}
		}()
	}

	for y := 0; y < height; y++ {
		rowJobs <- y
	}
	close(rowJobs)
	wg.Wait()

	return Frame{
		Lines:  lines,
		Status: r.buildStatus(st),
	}
}

// splat accumulates premultiplied particle color and coverage per cell.
func (r *Renderer) splat(recs []particles.Record) {
	cells := r.width * r.height
	if len(r.density) != cells {
		r.density = make([]float64, cells)
		r.rgb = make([][3]float64, cells)
	} else {
		clear(r.density)
		clear(r.rgb)
	}

	// terminal cells are about twice as tall as wide
	aspect := 0.5 * float64(r.width) / float64(r.height)
	halfW := float64(r.width) / 2
	halfH := float64(r.height) / 2

	for i := range recs {
		rec := &recs[i]
		if !rec.Alive() {
			continue
		}
		sx, sy, depth, ok := r.camera.Project(rec.Position)
		if !ok {
			continue
		}
		sx, sy = r.fx.warp(sx, sy)
		x := int(halfW + sx*halfW/aspect)
		y := int(halfH - sy*halfH)
		if x < 0 || x >= r.width || y < 0 || y >= r.height {
			continue
		}
		weight := float64(rec.Size) * float64(rec.Color[3]) / (1 + 0.1*depth)
		if weight <= 0 || math.IsNaN(weight) {
			continue
		}
		idx := y*r.width + x
		r.density[idx] += weight
		for c := 0; c < 3; c++ {
			r.rgb[idx][c] += float64(rec.Color[c]) * float64(rec.Size)
		}
	}
}

// cellBrightness saturates coverage so dense regions bloom instead of clip.
func (r *Renderer) cellBrightness(idx int, gain float64) float64 {
	return 1 - math.Exp(-r.density[idx]*gain)
}

func (r *Renderer) sampleCell(idx int, p params.Parameters, gain float64) (rune, int) {
	brightness := r.cellBrightness(idx, gain)
	index := clampInt(int(brightness*float64(len(r.palette)-1)+0.5), 0, len(r.palette)-1)
	if index == 0 {
		return r.palette[0], 0
	}
	colorIndex := 15
	if r.useANSI {
		cr, cg, cb := r.cellColor(idx, brightness, p)
		colorIndex = rgbToANSI(cr, cg, cb)
	}
	return r.palette[index], colorIndex
}

func (r *Renderer) cellColor(idx int, brightness float64, p params.Parameters) (float64, float64, float64) {
	acc := r.rgb[idx]
	sum := acc[0] + acc[1] + acc[2]
	var cr, cg, cb float64
	if sum > 0 {
		peak := math.Max(acc[0], math.Max(acc[1], acc[2]))
		cr, cg, cb = acc[0]/peak, acc[1]/peak, acc[2]/peak
	} else {
		cr, cg, cb = p.Primary[0], p.Primary[1], p.Primary[2]
	}

	switch r.colorMode {
	case colorModeFire:
		return hsvToRGB(clamp01(0.02+brightness*0.1), clamp01(1-brightness*0.4), clamp01(0.35+brightness*0.8))
	case colorModeAurora:
		return hsvToRGB(clamp01(0.45+brightness*0.25), 0.6, clamp01(0.3+brightness*0.8))
	case colorModeMono:
		return brightness, brightness, brightness
	default:
		v := clamp01(0.25 + brightness)
		return cr * v, cg * v, cb * v
	}
}

func colorCode(index int) string {
	if index < 0 {
		index = 0
	} else if index >= len(precomputedANSI) {
		index = len(precomputedANSI) - 1
	}
	return precomputedANSI[index]
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	h = clamp01(h)
	s = clamp01(s)
	v = clamp01(v)

	if s == 0 {
		return v, v, v
	}

	hv := h * 6.0
	i := math.Floor(hv)
	f := hv - i
	p := v * (1.0 - s)
	q := v * (1.0 - s*f)
	t := v * (1.0 - s*(1.0-f))

	switch int(i) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

func rgbToANSI(r, g, b float64) int {
	r = clamp01(r)
	g = clamp01(g)
	b = clamp01(b)

	// grayscale ramp for neutral colors
	if math.Abs(r-g) < 0.02 && math.Abs(g-b) < 0.02 {
		gray := int(clampFloat(math.Round(r*23), 0, 23))
		return 232 + gray
	}

	ri := int(clampFloat(r*5+0.5, 0, 5))
	gi := int(clampFloat(g*5+0.5, 0, 5))
	bi := int(clampFloat(b*5+0.5, 0, 5))

	return 16 + 36*ri + 6*gi + bi
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// windowTitle is the short status shown in the SDL title bar.
func windowTitle(st Status) string {
	title := fmt.Sprintf("particlizer · %s · %d particles", st.Style, st.Active)
	if !st.EngineRun {
		return title + " (stopped)"
	}
	return title + fmt.Sprintf(" · %.0f bpm · %.0f fps", st.Features.TempoBPM, st.FPS)
}

func (r *Renderer) buildStatus(st Status) string {
	builder := &r.statusBuilder
	builder.Reset()
	builder.Grow(160)
	builder.WriteString(strings.ToUpper(st.Style))
	builder.WriteString(" | quality=")
	builder.WriteString(st.Quality)
	builder.WriteString(" palette=")
	builder.WriteString(r.paletteName)
	builder.WriteString(" color=")
	builder.WriteString(string(r.colorMode))
	builder.WriteString(" | particles ")
	builder.WriteString(strconv.Itoa(st.Active))
	if !st.EngineRun {
		builder.WriteString(" (stopped)")
	}
	builder.WriteString(" | bpm ")
	appendFloat(builder, st.Features.TempoBPM, 0)
	builder.WriteString(" key ")
	builder.WriteString(st.Features.Key)
	builder.WriteString(" energy ")
	appendFloat(builder, st.Features.Energy, 2)
	builder.WriteString(" beat ")
	appendFloat(builder, st.Features.BeatStrength, 2)
	builder.WriteString(" fps ")
	appendFloat(builder, st.FPS, 1)
	if st.Extra != "" {
		builder.WriteString(" | ")
		builder.WriteString(st.Extra)
	}
	return builder.String()
}

func appendFloat(builder *strings.Builder, value float64, precision int) {
	var buf [32]byte
	b := strconv.AppendFloat(buf[:0], value, 'f', precision, 64)
	builder.Write(b)
}

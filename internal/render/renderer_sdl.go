//go:build sdl

package render

import (
	"fmt"

	"github.com/guidoenr/particlizer/internal/params"
	"github.com/veandco/go-sdl2/sdl"
)

// cellPixels is the on-screen size of one accumulator cell.
const cellPixels = 4

// sdlState owns the window and the streaming texture the accumulator grid is
// uploaded to. The texture is one texel per cell and is stretched on present.
type sdlState struct {
	videoUp bool
	window  *sdl.Window
	canvas  *sdl.Renderer
	grid    *sdl.Texture
	texels  []byte
	cols    int
	rows    int
	title   string
}

func (r *Renderer) initSDL(width, height int) error {
	if r.sdl == nil {
		if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
			return fmt.Errorf("sdl video: %w", err)
		}
		r.sdl = &sdlState{videoUp: true}
	}
	r.mode = backendSDL
	r.useANSI = false
	return nil
}

// ensureGrid (re)creates the window, canvas and grid texture so the texture
// matches the current accumulator dimensions.
func (r *Renderer) ensureGrid() error {
	state := r.sdl
	if state == nil {
		return fmt.Errorf("SDL backend not initialized")
	}
	if !state.videoUp {
		if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
			return fmt.Errorf("sdl video: %w", err)
		}
		state.videoUp = true
	}
	if state.window == nil {
		w, err := sdl.CreateWindow("particlizer",
			sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
			int32(r.width*cellPixels), int32(r.height*cellPixels*2),
			sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
		if err != nil {
			return fmt.Errorf("create window: %w", err)
		}
		state.window = w
	}
	if state.canvas == nil {
		c, err := sdl.CreateRenderer(state.window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
		if err != nil {
			return fmt.Errorf("create renderer: %w", err)
		}
		state.canvas = c
	}
	if state.grid != nil && state.cols == r.width && state.rows == r.height {
		return nil
	}
	if state.grid != nil {
		state.grid.Destroy()
		state.grid = nil
	}
	tex, err := state.canvas.CreateTexture(sdl.PIXELFORMAT_ABGR8888, sdl.TEXTUREACCESS_STREAMING,
		int32(r.width), int32(r.height))
	if err != nil {
		return fmt.Errorf("create grid texture: %w", err)
	}
	state.grid = tex
	state.cols, state.rows = r.width, r.height
	state.texels = make([]byte, 4*r.width*r.height)
	return nil
}

// renderSDL shades every accumulator cell into one texel. Brightness is the
// saturated particle coverage and color the coverage-weighted particle color.
func (r *Renderer) renderSDL(p params.Parameters, gain float64, st Status) Frame {
	if err := r.ensureGrid(); err != nil {
		return Frame{
			Status:  fmt.Sprintf("SDL init error: %v", err),
			Present: func(string) error { return err },
		}
	}
	state := r.sdl
	for idx := 0; idx < r.width*r.height; idx++ {
		texel := state.texels[idx*4 : idx*4+4]
		texel[3] = 255
		lum := r.cellBrightness(idx, gain)
		if lum <= 0.01 {
			texel[0], texel[1], texel[2] = 0, 0, 0
			continue
		}
		cr, cg, cb := r.cellColor(idx, lum, p)
		texel[0] = channel(cr * lum)
		texel[1] = channel(cg * lum)
		texel[2] = channel(cb * lum)
	}

	return Frame{
		Status:  windowTitle(st),
		Present: state.present,
	}
}

func channel(v float64) byte {
	return byte(clampFloat(v*255, 0, 255))
}

// present uploads the grid, retitles the window when the title changed and
// drains the event queue. Closing the window ends the run.
func (s *sdlState) present(title string) error {
	if title != "" && title != s.title && s.window != nil {
		s.window.SetTitle(title)
		s.title = title
	}
	if err := s.grid.Update(nil, s.texels, 4*s.cols); err != nil {
		return err
	}
	if err := s.canvas.Clear(); err != nil {
		return err
	}
	if err := s.canvas.Copy(s.grid, nil, nil); err != nil {
		return err
	}
	s.canvas.Present()
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if _, ok := event.(*sdl.QuitEvent); ok {
			return ErrRendererQuit
		}
	}
	return nil
}

func (r *Renderer) resizeSDL() {
	if r.sdl != nil {
		r.sdl.cols, r.sdl.rows = 0, 0
	}
}

func (r *Renderer) closeSDL() error {
	state := r.sdl
	if state == nil {
		return nil
	}
	if state.grid != nil {
		state.grid.Destroy()
	}
	if state.canvas != nil {
		state.canvas.Destroy()
	}
	if state.window != nil {
		state.window.Destroy()
	}
	if state.videoUp {
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
	}
	r.sdl = nil
	return nil
}

func (r *Renderer) windowedSDL() bool {
	return r.sdl != nil
}

// SupportsSDL reports whether the windowed backend is compiled in.
func SupportsSDL() bool { return true }

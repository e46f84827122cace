package app

import (
	"errors"
	"fmt"

	"github.com/guidoenr/particlizer/internal/config"
	"github.com/guidoenr/particlizer/internal/params"
	"github.com/guidoenr/particlizer/internal/render"
	"github.com/guidoenr/particlizer/internal/web"
	"github.com/sirupsen/logrus"
)

// Status reports the live state for the control panel.
func (a *App) Status() web.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	palette, color := a.renderer.PaletteName(), a.renderer.ColorModeName()
	if p := a.pendingRender; p != nil {
		palette, color = p[0], p[1]
	}
	return web.Status{
		Style:      a.smoother.Style().Name,
		Quality:    a.smoother.Quality().Name,
		Palette:    palette,
		Color:      color,
		Engine:     a.engine.State().String(),
		Active:     a.engine.Active(),
		FPS:        a.fps,
		NoiseFloor: a.noiseFloor,
		Features:   web.ViewFeatures(a.features),
		Params:     a.current,
	}
}

// Apply changes the style target. Palette and color changes land on the next
// frame.
func (a *App) Apply(u web.Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	style := a.smoother.Style()
	if u.Style != nil {
		s, err := params.LookupStyle(*u.Style)
		if err != nil {
			return err
		}
		style = s
	}
	if u.Reactivity != nil {
		style.Reactivity = *u.Reactivity
	}
	if u.Overrides != nil {
		style.Overrides = style.Overrides.Merge(*u.Overrides)
	}
	a.smoother.SetStyle(style)

	if u.Quality != nil {
		q, err := params.LookupQuality(*u.Quality)
		if err != nil {
			return err
		}
		a.smoother.SetQuality(q)
	}
	if u.Palette != nil || u.ColorMode != nil {
		a.queueRenderLocked(u.Palette, u.ColorMode)
	}
	if u.NoiseFloor != nil {
		a.noiseFloor = *u.NoiseFloor
	}

	a.log.WithFields(logrus.Fields{
		"style":   style.Name,
		"quality": a.smoother.Quality().Name,
		"floor":   a.noiseFloor,
	}).Info("style updated")
	return nil
}

func (a *App) queueRenderLocked(palette, color *string) {
	next := [2]string{a.renderer.PaletteName(), a.renderer.ColorModeName()}
	if a.pendingRender != nil {
		next = *a.pendingRender
	}
	if palette != nil {
		next[0] = *palette
	}
	if color != nil {
		next[1] = *color
	}
	a.pendingRender = &next
}

// loadStyleFile applies the file once and keeps watching it.
func (a *App) loadStyleFile(path string) error {
	f, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := a.applyFile(f); err != nil {
		return fmt.Errorf("style file %s: %w", path, err)
	}
	w, err := config.NewWatcher(path, a.cfg.Log, func(f config.File) {
		if err := a.applyFile(f); err != nil {
			a.log.WithError(err).Warn("style file rejected")
		}
	})
	if err != nil {
		a.log.WithError(err).Warn("style file will not be reloaded")
		return nil
	}
	a.watcher = w
	return nil
}

func (a *App) applyFile(f config.File) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	base, err := params.LookupStyle(a.smoother.Style().Name)
	if err != nil {
		base = a.smoother.Style()
	}
	style, quality, err := f.Resolve(base, a.smoother.Quality())
	if err != nil {
		return err
	}
	a.smoother.SetStyle(style)
	a.smoother.SetQuality(quality)
	if f.NoiseFloor != nil {
		a.noiseFloor = *f.NoiseFloor
	}

	var palette, color *string
	if f.Palette != "" {
		palette = &f.Palette
	}
	if f.ColorMode != "" {
		color = &f.ColorMode
	}
	if palette != nil || color != nil {
		a.queueRenderLocked(palette, color)
	}
	return nil
}

func (a *App) handleKey(evt keyEvent) {
	var err error
	switch evt.kind {
	case inputEventNextStyle:
		a.mu.Lock()
		a.smoother.SetStyle(params.NextStyle(a.smoother.Style().Name))
		a.mu.Unlock()
	case inputEventNextPalette:
		next := cycle(render.PaletteNames(), a.renderer.PaletteName())
		err = a.Apply(web.Update{Palette: &next})
	case inputEventNextColor:
		next := cycle(render.ColorModeNames(), a.renderer.ColorModeName())
		err = a.Apply(web.Update{ColorMode: &next})
	case inputEventQuality:
		q := evt.quality
		err = a.Apply(web.Update{Quality: &q})
	default:
		err = errors.New("unknown key event")
	}
	if err != nil {
		a.log.WithError(err).Warn("hotkey ignored")
	}
}

func cycle(options []string, current string) string {
	if len(options) == 0 {
		return current
	}
	for i, opt := range options {
		if opt == current {
			return options[(i+1)%len(options)]
		}
	}
	return options[0]
}

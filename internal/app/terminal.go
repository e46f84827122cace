package app

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/eiannone/keyboard"
	"golang.org/x/term"
)

func clearScreen(w io.Writer) {
	io.WriteString(w, "\x1b[2J")
	moveCursorHome(w)
}

func moveCursorHome(w io.Writer) {
	io.WriteString(w, "\x1b[H")
}

func hideCursor(w io.Writer) {
	io.WriteString(w, "\x1b[?25l")
}

func showCursor(w io.Writer) {
	io.WriteString(w, "\x1b[?25h")
}

func enterAltScreen(w io.Writer) {
	io.WriteString(w, "\x1b[?1049h")
}

func exitAltScreen(w io.Writer) {
	io.WriteString(w, "\x1b[?1049l\x1b[0m")
}

// ensureDimensions follows the terminal size.
func (a *App) ensureDimensions() {
	if a.renderer.Windowed() {
		return
	}
	fd := int(os.Stdout.Fd())
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return
	}
	if w == a.width && h == a.height {
		return
	}
	a.width = w
	a.height = h
	a.renderer.Resize(w, a.renderHeight(h))
}

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.WithError(err).Warn("keyboard input disabled")
		a.inputEvents = nil
		return
	}

	events := make(chan keyEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			evt, ok := translateKey(char, key)
			if !ok {
				continue
			}
			events <- evt
			if evt.kind == inputEventQuit {
				return
			}
		}
	}()
}

func translateKey(char rune, key keyboard.Key) (keyEvent, bool) {
	switch {
	case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
		return keyEvent{kind: inputEventQuit}, true
	case char == 'q' || char == 'Q':
		return keyEvent{kind: inputEventQuit}, true
	case char == 's' || char == 'S':
		return keyEvent{kind: inputEventNextStyle}, true
	case char == 'p' || char == 'P':
		return keyEvent{kind: inputEventNextPalette}, true
	case char == 'c' || char == 'C':
		return keyEvent{kind: inputEventNextColor}, true
	case char == '1':
		return keyEvent{kind: inputEventQuality, quality: "high"}, true
	case char == '2':
		return keyEvent{kind: inputEventQuality, quality: "balanced"}, true
	case char == '3':
		return keyEvent{kind: inputEventQuality, quality: "eco"}, true
	}
	return keyEvent{}, false
}

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const defaultDebounce = 150 * time.Millisecond

// Watcher reloads a style file whenever it changes on disk and hands every
// valid version to OnChange. Invalid edits are logged and skipped.
type Watcher struct {
	path     string
	log      logrus.FieldLogger
	watcher  *fsnotify.Watcher
	onChange func(File)
	debounce time.Duration
}

// NewWatcher watches path's directory, since editors often replace files
// instead of writing them in place.
func NewWatcher(path string, log logrus.FieldLogger, onChange func(File)) (*Watcher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		log:      log.WithField("component", "config"),
		watcher:  fw,
		onChange: onChange,
		debounce: defaultDebounce,
	}, nil
}

// Run delivers reloads until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.WithField("path", w.path).Info("watching style file")

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.log.WithFields(logrus.Fields{"op": event.Op.String()}).Debug("style file changed")
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("file watcher error")
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	f, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Warn("style file rejected, keeping previous")
		return
	}
	w.log.WithFields(logrus.Fields{"style": f.Style, "quality": f.Quality}).Info("style file reloaded")
	if w.onChange != nil {
		w.onChange(f)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

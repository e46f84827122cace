package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/guidoenr/particlizer/internal/params"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cosmicFile = `
style: cosmic
quality: eco
reactivity: 0.25
palette: dots
noiseFloor: 0.05
overrides:
  speed: 2.5
  primary: [1, 0.2, 0.6]
  shape: cube
`

func TestParseAndResolve(t *testing.T) {
	f, err := Parse([]byte(cosmicFile))
	require.NoError(t, err)
	assert.Equal(t, "cosmic", f.Style)
	assert.Equal(t, "dots", f.Palette)
	require.NotNil(t, f.NoiseFloor)
	assert.Equal(t, 0.05, *f.NoiseFloor)

	calm, _ := params.LookupStyle("calm")
	high, _ := params.LookupQuality("high")
	style, quality, err := f.Resolve(calm, high)
	require.NoError(t, err)

	assert.Equal(t, "cosmic", style.Name)
	assert.Equal(t, "eco", quality.Name)
	assert.Equal(t, 0.25, style.Reactivity)

	target := style.Target(params.Defaults())
	assert.Equal(t, 2.5, target.Speed)
	assert.Equal(t, params.Vec3{1, 0.2, 0.6}, target.Primary)
	assert.Equal(t, params.ShapeCube, target.Shape)
}

func TestEmptyFileKeepsFallbacks(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)

	calm, _ := params.LookupStyle("calm")
	high, _ := params.LookupQuality("high")
	style, quality, err := f.Resolve(calm, high)
	require.NoError(t, err)
	assert.Equal(t, calm.Name, style.Name)
	assert.Equal(t, calm.Reactivity, style.Reactivity)
	assert.Equal(t, high, quality)
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "colour: red\n",
		"unknown style":   "style: disco\n",
		"unknown quality": "quality: ultra\n",
		"reactivity":      "reactivity: 3\n",
		"noise floor":     "noiseFloor: 1\n",
		"negative floor":  "noiseFloor: -0.1\n",
		"shape":           "overrides:\n  shape: pyramid\n",
		"short vector":    "overrides:\n  primary: [1, 0]\n",
		"syntax":          "style: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "style.yaml")
	require.NoError(t, os.WriteFile(path, []byte("style: calm\n"), 0o644))

	changes := make(chan File, 4)
	log := logrus.New()
	log.SetOutput(os.Stderr)
	w, err := NewWatcher(path, log, func(f File) { changes <- f })
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// invalid edit is skipped, then a valid one lands
	require.NoError(t, os.WriteFile(path, []byte("style: disco\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("style: energetic\n"), 0o644))

	select {
	case f := <-changes:
		assert.Equal(t, "energetic", f.Style)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "style.yaml")
	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.False(t, w.relevant(fsnotifyEvent(filepath.Join(dir, "other.yaml"))))
	assert.True(t, w.relevant(fsnotifyEvent(path)))
}

func fsnotifyEvent(name string) fsnotify.Event {
	return fsnotify.Event{Name: name, Op: fsnotify.Write}
}

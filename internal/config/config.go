// Package config loads the optional YAML style file and keeps it in sync
// with the disk.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/guidoenr/particlizer/internal/params"
	"gopkg.in/yaml.v3"
)

// File is the on-disk style description:
//
//	style: cosmic
//	quality: balanced
//	reactivity: 0.8
//	palette: dots
//	colorMode: fire
//	noiseFloor: 0.02
//	overrides:
//	  speed: 2
//	  primary: [1, 0.2, 0.6]
type File struct {
	Style      string           `yaml:"style"`
	Quality    string           `yaml:"quality"`
	Reactivity *float64         `yaml:"reactivity"`
	Palette    string           `yaml:"palette"`
	ColorMode  string           `yaml:"colorMode"`
	NoiseFloor *float64         `yaml:"noiseFloor"`
	Overrides  params.Overrides `yaml:"overrides"`
}

// Load reads and validates a style file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read style file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a style file body. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode style file: %w", err)
	}
	if _, _, err := f.Resolve(params.Style{}, params.Quality{}); err != nil {
		return File{}, err
	}
	return f, nil
}

// Resolve turns the file into a concrete style and quality. Empty names keep
// the given fallbacks.
func (f File) Resolve(style params.Style, quality params.Quality) (params.Style, params.Quality, error) {
	if f.Style != "" {
		s, err := params.LookupStyle(f.Style)
		if err != nil {
			return style, quality, err
		}
		style = s
	}
	if f.Quality != "" {
		q, err := params.LookupQuality(f.Quality)
		if err != nil {
			return style, quality, err
		}
		quality = q
	}
	if f.Reactivity != nil {
		r := *f.Reactivity
		if r < 0 || r > 1 {
			return style, quality, fmt.Errorf("reactivity %v outside [0,1]", r)
		}
		style.Reactivity = r
	}
	if f.NoiseFloor != nil && (*f.NoiseFloor < 0 || *f.NoiseFloor >= 1) {
		return style, quality, fmt.Errorf("noiseFloor %v outside [0,1)", *f.NoiseFloor)
	}
	if f.Overrides.Shape != nil && !params.ValidShape(*f.Overrides.Shape) {
		return style, quality, fmt.Errorf("unknown shape %q", *f.Overrides.Shape)
	}
	style.Overrides = style.Overrides.Merge(f.Overrides)
	return style, quality, nil
}

// Package media acquires the local audio and video tracks of a call
package media

import (
	"errors"
	"fmt"
	"strings"
)

// Preset is a requested video resolution
type Preset string

const (
	Preset480p  Preset = "480p"
	Preset720p  Preset = "720p"
	Preset1080p Preset = "1080p"

	DefaultPreset = Preset720p
)

var ErrUnknownPreset = errors.New("unknown video preset")

// Resolution is an ideal frame size in pixels
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

var presets = map[Preset]Resolution{
	Preset480p:  {Width: 640, Height: 480},
	Preset720p:  {Width: 1280, Height: 720},
	Preset1080p: {Width: 1920, Height: 1080},
}

// ParsePreset accepts "480p", "720p" or "1080p" (case-insensitive).
// An empty string selects DefaultPreset.
func ParsePreset(s string) (Preset, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultPreset, nil
	}
	p := Preset(s)
	if _, ok := presets[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
	}
	return p, nil
}

// Resolution returns the ideal frame size; unknown presets fall back to
// the default.
func (p Preset) Resolution() Resolution {
	if r, ok := presets[p]; ok {
		return r
	}
	return presets[DefaultPreset]
}

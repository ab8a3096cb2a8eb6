package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Size is an output canvas size accepted by the upstream model.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Ratio is width over height.
func (s Size) Ratio() float64 {
	return float64(s.Width) / float64(s.Height)
}

// Landscape reports whether the canvas is wider than tall.
func (s Size) Landscape() bool {
	return s.Width > s.Height
}

// DefaultSize is used when the source proportions are unknown.
var DefaultSize = Size{1024, 1024}

// Sizes is the fixed set of supported canvases.
var Sizes = []Size{
	DefaultSize,
	{1280, 960},
	{960, 1280},
	{1280, 720},
	{720, 1280},
}

const ratioEpsilon = 1e-9

// SelectSize picks the canvas whose ratio is closest to width/height. Equal
// distances go to the landscape canvas. Missing or non-positive dimensions
// yield DefaultSize.
func SelectSize(width, height float64) Size {
	if !(width > 0) || !(height > 0) || math.IsInf(width, 0) || math.IsInf(height, 0) {
		return DefaultSize
	}
	ratio := width / height

	best := Sizes[0]
	bestDiff := math.Abs(best.Ratio() - ratio)
	for _, candidate := range Sizes[1:] {
		diff := math.Abs(candidate.Ratio() - ratio)
		switch {
		case diff < bestDiff-ratioEpsilon:
			best, bestDiff = candidate, diff
		case math.Abs(diff-bestDiff) <= ratioEpsilon && candidate.Landscape() && !best.Landscape():
			best, bestDiff = candidate, diff
		}
	}
	return best
}

// ParseSize accepts "WxH" (or "W*H") strings naming one of Sizes.
func ParseSize(raw string) (Size, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	raw = strings.ReplaceAll(raw, "*", "x")
	w, h, ok := strings.Cut(raw, "x")
	if !ok {
		return Size{}, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Size{}, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Size{}, false
	}
	for _, s := range Sizes {
		if s.Width == width && s.Height == height {
			return s, true
		}
	}
	return Size{}, false
}

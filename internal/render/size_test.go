package render

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height float64
		want          Size
	}{
		{"square", 800, 800, Size{1024, 1024}},
		{"phone landscape", 4032, 3024, Size{1280, 960}},
		{"phone portrait", 3024, 4032, Size{960, 1280}},
		{"wide", 1920, 1080, Size{1280, 720}},
		{"tall", 1080, 1920, Size{720, 1280}},
		{"panorama", 6000, 1000, Size{1280, 720}},
		{"tie between square and 4:3 prefers landscape", 7, 6, Size{1280, 960}},
		{"zero width", 0, 600, DefaultSize},
		{"missing height", 800, 0, DefaultSize},
		{"negative", -4, 3, DefaultSize},
		{"nan", math.NaN(), 3, DefaultSize},
		{"inf", math.Inf(1), 3, DefaultSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectSize(tt.width, tt.height))
		})
	}
}

func TestParseSize(t *testing.T) {
	s, ok := ParseSize(" 1280X960 ")
	assert.True(t, ok)
	assert.Equal(t, "1280x960", s.String())

	s, ok = ParseSize("720*1280")
	assert.True(t, ok)
	assert.Equal(t, Size{720, 1280}, s)

	for _, raw := range []string{"", "auto", "1000x1000", "x", "12ax3"} {
		_, ok := ParseSize(raw)
		assert.False(t, ok, raw)
	}
}

package design

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeWall(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Far wall", WallFar},
		{"back", WallFar},
		{"對面", WallFar},
		{" LEFT side ", WallLeft},
		{"右側", WallRight},
		{"behind camera", WallNear},
		{"ceiling", ""},
		{"a large bright window", ""},
		{"window above the backsplash", ""},
		{"background wall art", ""},
		{"storefront style glazing", ""},
		{"sofa in front of the window", ""},
		{"窗前有沙發", ""},
		{"窗後是陽台", ""},
		{"the right-hand wall", WallRight},
		{"前方牆有一扇門", WallNear},
		{"後方有窗", WallFar},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeWall(c.in), c.in)
	}
}

func TestNormalizeFinish(t *testing.T) {
	assert.Equal(t, FinishRaw, NormalizeFinish("bare concrete shell"))
	assert.Equal(t, FinishRaw, NormalizeFinish("unfinished"))
	assert.Equal(t, FinishRaw, NormalizeFinish("毛坯"))
	assert.Equal(t, FinishPartial, NormalizeFinish("semi-finished"))
	assert.Equal(t, FinishFinished, NormalizeFinish("Finished"))
	assert.Equal(t, FinishUnknown, NormalizeFinish("glossy"))
}

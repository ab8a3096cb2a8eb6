package prompts

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomRenderAi/internal/design"
)

func TestBuild_KitchenScenario(t *testing.T) {
	result := Build(design.Intake{Space: "廚房", Style: "現代簡約", Color: "純白為主"})

	assert.Contains(t, result.Prompt, "kitchen")
	assert.Contains(t, result.Prompt, "Modern minimalist")
	assert.Contains(t, result.Prompt, "pure white")
	assert.Contains(t, result.Prompt, StructuralLock)
	assert.LessOrEqual(t, result.Chars, HardLimit)
	assert.Equal(t, utf8.RuneCountInString(result.Prompt), result.Chars)
	assert.Empty(t, result.Dropped)
	assert.Equal(t, SpaceKitchen, result.Space)
	assert.Len(t, result.Hash, 64)
}

func TestBuild_LengthInvariant(t *testing.T) {
	long := strings.Repeat("請保留原有的木地板並增加更多收納空間 ", 200)
	intakes := []design.Intake{
		{},
		{Space: "bedroom"},
		{Space: "unknown hobby room", Style: "whatever", Color: "rainbow"},
		{Space: "客廳", Style: "北歐", Color: "米白", Requirements: long, Focus: "收納", Storage: "隱藏", Priority: "預算", Intensity: "大改"},
		{Space: strings.Repeat("x", 3000), Requirements: long},
		{
			Space:        "主臥",
			Requirements: long,
			Vision: &design.VisionAnalysis{
				Summary: strings.Repeat("A window on the left wall. A column on the right wall. ", 60),
			},
		},
	}

	for _, in := range intakes {
		result := Build(in)
		require.NotEmpty(t, result.Prompt)
		assert.GreaterOrEqual(t, result.Chars, 1)
		assert.LessOrEqual(t, result.Chars, HardLimit)
		assert.NotContains(t, result.Prompt, "  ")
	}
}

func TestBuild_DropsLowPriorityFromTheTail(t *testing.T) {
	in := design.Intake{
		Space:        "kitchen",
		Style:        "Scandinavian",
		Color:        "beige",
		Focus:        "storage",
		Storage:      "hidden",
		Priority:     "budget",
		Intensity:    "heavy",
		Requirements: strings.Repeat("keep the old oak floor ", 30),
	}

	result := Build(in)

	require.NotEmpty(t, result.Dropped)
	assert.Equal(t, FieldNotes, result.Dropped[0])
	assert.Contains(t, result.Prompt, StructuralLock)
	assert.Contains(t, result.Prompt, "must remain a kitchen")
	assert.Contains(t, result.Prompt, "No bare concrete")
	assert.Contains(t, result.Prompt, "range hood")
	assert.Contains(t, result.Prompt, "Scandinavian")
	assert.LessOrEqual(t, result.Chars, SoftLimit)
}

func TestBuild_StyleAndColorGoBeforeMandatorySegments(t *testing.T) {
	// enough structural clauses to push the mandatory part close to the soft limit
	structure := &design.Structure{
		Windows:     []design.Opening{{Wall: "far", Count: 2}, {Wall: "left", Count: 2}},
		Doors:       []design.Opening{{Wall: "right", Count: 1}},
		Columns:     []design.Element{{Wall: "near"}},
		FinishLevel: "毛坯",
	}
	in := design.Intake{
		Space:     "bathroom",
		Style:     "industrial",
		Color:     "grey",
		Focus:     "light",
		Intensity: "medium",
		Vision:    &design.VisionAnalysis{Structure: structure},
	}

	result := Build(in)

	assert.LessOrEqual(t, result.Chars, SoftLimit)
	assert.Contains(t, result.Prompt, "Exactly 2 windows on the far wall; do not add extra windows.")
	assert.Contains(t, result.Prompt, "Keep the structural column on the near wall.")
	assert.Contains(t, result.Prompt, "must remain a bathroom")
	assert.Contains(t, result.Prompt, "vanity with basin")
	assert.Contains(t, result.Prompt, "unfinished shell")
	assert.Equal(t, []string{FieldIntensity, FieldFocus, FieldColor, FieldStyle}, result.Dropped)
	assert.NotContains(t, result.Prompt, "Industrial loft")
	assert.False(t, strings.HasSuffix(result.Prompt, ellipsis))
}

func TestBuild_UnknownLabelsPassThrough(t *testing.T) {
	result := Build(design.Intake{Space: "sauna", Style: "vaporwave", Color: "neon pink"})

	assert.Contains(t, result.Prompt, "This is a sauna")
	assert.Contains(t, result.Prompt, "Style: vaporwave.")
	assert.Contains(t, result.Prompt, "Color palette: neon pink.")
	assert.Equal(t, SpaceOther, result.Space)
}

func TestBuild_Deterministic(t *testing.T) {
	in := design.Intake{Space: "臥室", Style: "日式", Color: "原木", Requirements: "  需要  書桌 \n\t 和衣櫃 "}
	first := Build(in)
	second := Build(in)

	assert.Equal(t, first, second)
	assert.Contains(t, first.Prompt, "User notes: 需要 書桌 和衣櫃")
}

func TestBuild_TruncatesMandatoryWhenNothingLeftToDrop(t *testing.T) {
	result := Build(design.Intake{Space: strings.Repeat("enormous ", 200)})

	assert.LessOrEqual(t, result.Chars, HardLimit)
	assert.Greater(t, result.Chars, SoftLimit)
	assert.True(t, strings.HasSuffix(result.Prompt, ellipsis))
	assert.True(t, strings.HasPrefix(result.Prompt, StructuralLock))
}

func TestBuildLiteral(t *testing.T) {
	assert.Empty(t, BuildLiteral("   \n ").Prompt)

	result := BuildLiteral("  a   cosy\tloft ")
	assert.Equal(t, "a cosy loft", result.Prompt)
	assert.Equal(t, 11, result.Chars)

	long := BuildLiteral(strings.Repeat("ab ", 600))
	assert.Equal(t, HardLimit, long.Chars)
}

func TestRefine(t *testing.T) {
	short := Refine("Render a kitchen.")
	assert.Equal(t, "Render a kitchen. "+RefineInstruction, short)

	long := Refine(strings.Repeat("word ", 400))
	assert.LessOrEqual(t, utf8.RuneCountInString(long), HardLimit)
	assert.True(t, strings.HasSuffix(long, RefineInstruction))
}

func TestResolveIntensity(t *testing.T) {
	assert.Equal(t, IntensityLight, ResolveIntensity("輕度改造"))
	assert.Equal(t, IntensityHeavy, ResolveIntensity("大改"))
	assert.Equal(t, IntensityMedium, ResolveIntensity("中等"))
	assert.Equal(t, IntensityMedium, ResolveIntensity(""))
	assert.Equal(t, IntensityMedium, ResolveIntensity("???"))
	assert.Less(t, IntensityLight.Rank(), IntensityMedium.Rank())
}

package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"roomRenderAi/internal/design"
)

// Version tags the prompt construction logic. It is part of every cache
// key, so it must change whenever the wording or ordering below changes.
const Version = "render-prompt/2026-10-a"

const (
	// SoftLimit is the length droppable segments are trimmed towards.
	SoftLimit = 980
	// HardLimit is the upstream ceiling; prompts never exceed it.
	HardLimit = 1024

	ellipsis = "..."
)

// StructuralLock is the fixed geometry and camera clause that leads every
// intake prompt.
const StructuralLock = "Redesign the interior shown in the source photo. Keep the exact room shape, wall positions, ceiling height, camera position, angle and perspective. Do not add, remove or move any doors, windows, columns or beams."

const completeness = "Photorealistic, fully finished result: finished walls, ceiling and flooring, installed lighting and soft furnishings. No bare concrete, no exposed wiring, no empty room, no construction debris, no people, no text."

const rawShellNote = "The photo shows an unfinished shell; render it as a completed renovation."

// RefineInstruction is appended to the first-pass prompt for the
// refinement call.
const RefineInstruction = "Refinement pass: keep the layout, furniture and camera identical; add missing finish details such as skirting boards, trims, switches, curtain tracks, realistic lighting and material textures."

// Droppable segment names in priority order, highest first. Segments are
// dropped from the tail of this list.
const (
	FieldStyle     = "style"
	FieldColor     = "color"
	FieldFocus     = "focus"
	FieldStorage   = "storage"
	FieldPriority  = "priority"
	FieldIntensity = "intensity"
	FieldNotes     = "notes"
)

// Result is a built prompt plus the metadata reported to callers.
type Result struct {
	Prompt    string    `json:"prompt"`
	Chars     int       `json:"prompt_chars"`
	Hash      string    `json:"prompt_hash"`
	Dropped   []string  `json:"dropped_fields"`
	Space     SpaceType `json:"space_type,omitempty"`
	Intensity Intensity `json:"intensity,omitempty"`
}

type segment struct {
	name string
	text string
}

// Build turns an intake into a bounded prompt. It never returns an empty
// prompt and never exceeds HardLimit characters.
func Build(in design.Intake) Result {
	space, spaceName := ResolveSpace(in.Space)
	intensity := ResolveIntensity(in.Intensity)

	mandatory := []segment{
		{name: "structure", text: structureSegment(in)},
		{name: "space", text: fmt.Sprintf("This is a %s and must remain a %s; do not turn it into another room type.", spaceName, spaceName)},
		{name: "completeness", text: completeness},
		{name: "essentials", text: spaceProfiles[space].essentials},
	}

	optional := droppableSegments(in, intensity)

	var dropped []string
	prompt := join(mandatory, optional)
	for utf8.RuneCountInString(prompt) > SoftLimit && len(optional) > 0 {
		last := optional[len(optional)-1]
		optional = optional[:len(optional)-1]
		dropped = append(dropped, last.name)
		prompt = join(mandatory, optional)
	}
	prompt = truncate(prompt, HardLimit)

	return finish(prompt, dropped, space, intensity)
}

// BuildLiteral normalises a caller supplied prompt. An empty input yields
// an empty Result which callers must reject.
func BuildLiteral(text string) Result {
	prompt := truncate(collapse(text), HardLimit)
	if prompt == "" {
		return Result{Dropped: []string{}}
	}
	return finish(prompt, nil, "", "")
}

// Refine appends the refinement instruction, shortening the base prompt
// if needed to stay within HardLimit.
func Refine(base string) string {
	base = collapse(base)
	budget := HardLimit - utf8.RuneCountInString(RefineInstruction) - 1
	return strings.TrimSpace(truncate(base, budget) + " " + RefineInstruction)
}

func finish(prompt string, dropped []string, space SpaceType, intensity Intensity) Result {
	if dropped == nil {
		dropped = []string{}
	}
	sum := sha256.Sum256([]byte(prompt))
	return Result{
		Prompt:    prompt,
		Chars:     utf8.RuneCountInString(prompt),
		Hash:      hex.EncodeToString(sum[:]),
		Dropped:   dropped,
		Space:     space,
		Intensity: intensity,
	}
}

func structureSegment(in design.Intake) string {
	parts := []string{StructuralLock}

	var summary string
	var extraction *design.Structure
	if in.Vision != nil {
		summary = in.Vision.Summary
		extraction = in.Vision.Structure
	}
	parts = append(parts, ExtractStructure(summary, extraction)...)

	if dims := dimensionClause(in.Dimensions); dims != "" {
		parts = append(parts, dims)
	}
	if finishLevel(summary, extraction) == design.FinishRaw {
		parts = append(parts, rawShellNote)
	}
	return strings.Join(parts, " ")
}

func droppableSegments(in design.Intake, intensity Intensity) []segment {
	var out []segment
	add := func(name, text string) {
		if strings.TrimSpace(text) != "" {
			out = append(out, segment{name: name, text: text})
		}
	}
	if v := translate(styleTable, in.Style); v != "" {
		add(FieldStyle, "Style: "+v+".")
	}
	if v := translate(colorTable, in.Color); v != "" {
		add(FieldColor, "Color palette: "+v+".")
	}
	if v := translate(focusTable, in.Focus); v != "" {
		add(FieldFocus, "Focus on "+v+".")
	}
	if v := translate(storageTable, in.Storage); v != "" {
		add(FieldStorage, "Storage: "+v+".")
	}
	if v := translate(priorityTable, in.Priority); v != "" {
		add(FieldPriority, "Priority: "+v+".")
	}
	if strings.TrimSpace(in.Intensity) != "" {
		add(FieldIntensity, intensityClause(intensity))
	}
	if v := collapse(in.Requirements); v != "" {
		add(FieldNotes, "User notes: "+v)
	}
	return out
}

func intensityClause(i Intensity) string {
	switch i {
	case IntensityLight:
		return "Change level: light refresh, keep existing finishes where they work."
	case IntensityHeavy:
		return "Change level: complete makeover of finishes, furniture and lighting."
	default:
		return "Change level: moderate makeover of furniture, colors and decor."
	}
}

func dimensionClause(d *design.Dimensions) string {
	if d == nil {
		return ""
	}
	var parts []string
	if d.WidthM > 0 {
		parts = append(parts, formatMetres(d.WidthM)+" wide")
	}
	if d.DepthM > 0 {
		parts = append(parts, formatMetres(d.DepthM)+" deep")
	}
	if d.HeightM > 0 {
		parts = append(parts, formatMetres(d.HeightM)+" high")
	}
	if len(parts) == 0 {
		return ""
	}
	return "Room is about " + strings.Join(parts, ", ") + "; keep furniture at realistic scale."
}

func formatMetres(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + " m"
}

func join(mandatory, optional []segment) string {
	texts := make([]string, 0, len(mandatory)+len(optional))
	for _, s := range mandatory {
		texts = append(texts, s.text)
	}
	for _, s := range optional {
		texts = append(texts, s.text)
	}
	return collapse(strings.Join(texts, " "))
}

// collapse trims and squeezes all whitespace runs to a single space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	keep := limit - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return strings.TrimSpace(string(runes[:keep])) + ellipsis
}

package design

import (
	"regexp"
	"strings"
)

// Intake captures the design preferences a user declared for one room.
// Labels are kept exactly as the client sent them (often localised); the
// prompt builder maps them to English when it recognises them.
type Intake struct {
	Space        string          `json:"space"`
	Style        string          `json:"style,omitempty"`
	Color        string          `json:"color,omitempty"`
	Requirements string          `json:"requirements,omitempty"`
	Focus        string          `json:"focus,omitempty"`
	Storage      string          `json:"storage,omitempty"`
	Priority     string          `json:"priority,omitempty"`
	Intensity    string          `json:"intensity,omitempty"`
	Dimensions   *Dimensions     `json:"dimensions,omitempty"`
	Vision       *VisionAnalysis `json:"vision,omitempty"`
}

// Dimensions are optional room measurements in metres.
type Dimensions struct {
	WidthM  float64 `json:"width_m,omitempty"`
	DepthM  float64 `json:"depth_m,omitempty"`
	HeightM float64 `json:"height_m,omitempty"`
}

// VisionAnalysis is the output of a prior vision pass over the room photo.
type VisionAnalysis struct {
	Summary   string     `json:"summary,omitempty"`
	Structure *Structure `json:"structure,omitempty"`
}

// Structure is the structured extraction returned by the vision model.
type Structure struct {
	Windows     []Opening `json:"windows,omitempty"`
	Doors       []Opening `json:"doors,omitempty"`
	Columns     []Element `json:"columns,omitempty"`
	Beams       []Element `json:"beams,omitempty"`
	FinishLevel string    `json:"finish_level,omitempty"`
}

// Opening is a group of doors or windows on one wall.
type Opening struct {
	Wall  string `json:"wall"`
	Count int    `json:"count"`
}

// Element is a fixed structural element such as a column or a beam.
type Element struct {
	Wall string `json:"wall,omitempty"`
}

// Wall names relative to the camera.
const (
	WallFar   = "far"
	WallLeft  = "left"
	WallRight = "right"
	WallNear  = "near"
)

// Finish levels reported by vision analysis.
const (
	FinishRaw      = "raw"
	FinishPartial  = "partial"
	FinishFinished = "finished"
	FinishUnknown  = ""
)

// Wall patterns. English terms match whole words only, so "bright" or
// "backsplash" name no wall; Chinese terms are wall phrases rather than
// bare 前/後, which also appear in "窗前" and similar.
var (
	farWall   = regexp.MustCompile(`\b(?:far|back|rear|opposite)\b|後牆|后墙|後方|后方|後面牆|后面墙|正面|對面|对面`)
	leftWall  = regexp.MustCompile(`\bleft\b|左牆|左墙|左邊|左边|左側|左侧|左方|左面`)
	rightWall = regexp.MustCompile(`\bright\b|右牆|右墙|右邊|右边|右側|右侧|右方|右面`)
	nearWall  = regexp.MustCompile(`\b(?:near|front|camera)\b|前牆|前墙|前方牆|前方墙|鏡頭|镜头`)
	inFrontOf = regexp.MustCompile(`\bin front of\b`)
)

// NormalizeWall maps free-form wall descriptions to the canonical names.
// Unknown values return an empty string.
func NormalizeWall(raw string) string {
	clean := strings.ToLower(strings.TrimSpace(raw))
	clean = inFrontOf.ReplaceAllString(clean, " ")
	switch {
	case clean == "":
		return ""
	case farWall.MatchString(clean):
		return WallFar
	case leftWall.MatchString(clean):
		return WallLeft
	case rightWall.MatchString(clean):
		return WallRight
	case nearWall.MatchString(clean):
		return WallNear
	default:
		return ""
	}
}

// NormalizeFinish maps vision finish estimates to the canonical levels.
func NormalizeFinish(raw string) string {
	clean := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case clean == "":
		return FinishUnknown
	case containsAny(clean, FinishRaw, "bare", "shell", "unfinished", "concrete", "毛坯", "清水"):
		return FinishRaw
	case containsAny(clean, FinishPartial, "semi", "簡裝", "简装"):
		return FinishPartial
	case containsAny(clean, FinishFinished, "精裝", "精装", "complete"):
		return FinishFinished
	default:
		return FinishUnknown
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

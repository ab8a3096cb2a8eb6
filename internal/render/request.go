package render

import (
	"math"
	"net/url"
	"strings"

	"roomRenderAi/internal/design"
	"roomRenderAi/internal/imageapi"
	"roomRenderAi/internal/prompts"
)

// Parameter defaults and bounds.
const (
	DefaultSourceWeight = 0.65
	DefaultSteps        = 30
	DefaultCFGScale     = 7.5

	MinSteps    = 1
	MaxSteps    = 100
	MinCFGScale = 1.0
	MaxCFGScale = 10.0
	MaxSeed     = math.MaxUint32
)

// Request is a generation request as submitted by the client.
type Request struct {
	Image        string         `json:"image"`
	Intake       *design.Intake `json:"intake,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	Size         string         `json:"size,omitempty"`
	SourceWidth  float64        `json:"source_width,omitempty"`
	SourceHeight float64        `json:"source_height,omitempty"`
	ClientID     string         `json:"client_id,omitempty"`
	UploadID     string         `json:"upload_id,omitempty"`
	JobID        string         `json:"job_id,omitempty"`
	Params       ParamsInput    `json:"params"`
}

// ParamsInput holds raw model parameters. Zero or out of range values
// select the defaults.
type ParamsInput struct {
	SourceWeight   float64 `json:"source_weight,omitempty"`
	Steps          float64 `json:"steps,omitempty"`
	CFGScale       float64 `json:"cfg_scale,omitempty"`
	Seed           float64 `json:"seed,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

// Params are validated model parameters. They are part of the cache key.
type Params struct {
	SourceWeight float64         `json:"source_weight"`
	Steps        int             `json:"steps"`
	CFGScale     float64         `json:"cfg_scale"`
	Seed         int64           `json:"seed"`
	Format       imageapi.Format `json:"response_format"`
}

// Normalize applies defaults to anything missing or invalid.
func (p ParamsInput) Normalize() Params {
	out := Params{
		SourceWeight: DefaultSourceWeight,
		Steps:        DefaultSteps,
		CFGScale:     DefaultCFGScale,
		Format:       imageapi.FormatURL,
	}
	if p.SourceWeight > 0 && p.SourceWeight <= 1 {
		out.SourceWeight = p.SourceWeight
	}
	if isWhole(p.Steps) && p.Steps >= MinSteps && p.Steps <= MaxSteps {
		out.Steps = int(p.Steps)
	}
	if p.CFGScale >= MinCFGScale && p.CFGScale <= MaxCFGScale {
		out.CFGScale = p.CFGScale
	}
	if isWhole(p.Seed) && p.Seed > 0 && p.Seed <= MaxSeed {
		out.Seed = int64(p.Seed)
	}
	if format, ok := imageapi.ParseFormat(p.ResponseFormat); ok {
		out.Format = format
	}
	return out
}

// Relaxed clamps the parameters for the last-resort strategy.
func (p Params) Relaxed() Params {
	p.SourceWeight = math.Min(p.SourceWeight, 0.5)
	if p.Steps > 20 {
		p.Steps = 20
	}
	p.CFGScale = math.Min(p.CFGScale, 5)
	return p
}

func isWhole(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v == math.Trunc(v)
}

// ComposePrompt builds the prompt for a request. A non-blank literal prompt
// wins over the intake.
func ComposePrompt(intake *design.Intake, literal string) (prompts.Result, error) {
	if strings.TrimSpace(literal) != "" {
		res := prompts.BuildLiteral(literal)
		if res.Prompt == "" {
			return prompts.Result{}, invalidRequest("prompt is empty")
		}
		return res, nil
	}
	if intake == nil {
		return prompts.Result{}, invalidRequest("intake or prompt is required")
	}
	res := prompts.Build(*intake)
	if res.Prompt == "" {
		return prompts.Result{}, invalidRequest("prompt is empty")
	}
	return res, nil
}

// chooseSize honours an explicit supported size, then the source photo
// proportions, then the room dimension hints.
func chooseSize(req Request) Size {
	if s, ok := ParseSize(req.Size); ok {
		return s
	}
	if req.SourceWidth > 0 && req.SourceHeight > 0 {
		return SelectSize(req.SourceWidth, req.SourceHeight)
	}
	if req.Intake != nil && req.Intake.Dimensions != nil {
		return SelectSize(req.Intake.Dimensions.WidthM, req.Intake.Dimensions.HeightM)
	}
	return DefaultSize
}

// sourceOf validates the base image reference and converts it to an
// upstream source.
func sourceOf(ref string) (imageapi.Source, error) {
	if ref == "" {
		return imageapi.Source{}, invalidRequest("image is required")
	}
	if imageapi.IsDataURI(ref) {
		data, mime, err := imageapi.ParseDataURI(ref)
		if err != nil {
			return imageapi.Source{}, invalidRequest("image is not a valid base64 data URI")
		}
		return imageapi.Source{Data: data, MIME: mime}, nil
	}
	parsed, err := url.Parse(ref)
	if err != nil || parsed.Host == "" {
		return imageapi.Source{}, invalidRequest("image must be an http(s) URL, a gs:// URI or a data URI")
	}
	switch parsed.Scheme {
	case "http", "https", "gs":
		return imageapi.Source{URL: ref}, nil
	default:
		return imageapi.Source{}, invalidRequest("image must be an http(s) URL, a gs:// URI or a data URI")
	}
}

package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"roomRenderAi/internal/design"
	"roomRenderAi/internal/imageapi"
)

// Analyzer extracts the room summary and structure from a photo.
type Analyzer interface {
	Analyze(ctx context.Context, imageRef string) (design.VisionAnalysis, error)
	AnalyzeBytes(ctx context.Context, data []byte, mimeType string) (design.VisionAnalysis, error)
}

const (
	MaxVisionImageBytes = 7 * 1024 * 1024
	defaultVisionModel  = "gemini-2.5-flash"
	defaultEndpoint     = "https://generativelanguage.googleapis.com/v1beta"
)

// ErrEmptyImage is returned for missing image input.
var ErrEmptyImage = errors.New("vision: empty image")

const analysisPrompt = `You are an interior surveyor. Describe the room in the photo for a renovation designer.
Positions are relative to the camera: "far" is the wall facing the camera, "left", "right", and "near" is behind the camera.
Only report elements you can actually see. Respond ONLY with JSON of this shape:
{
  "summary": "2-3 sentences about the room, its openings and its current state",
  "structure": {
    "windows": [{"wall": "far|left|right|near", "count": 1}],
    "doors": [{"wall": "far|left|right|near", "count": 1}],
    "columns": [{"wall": "far|left|right|near"}],
    "beams": [{"wall": "far|left|right|near"}],
    "finish_level": "raw|partial|finished"
  }
}`

// Config configures the Gemini analyzer. A TokenSource takes precedence over
// the API key.
type Config struct {
	APIKey      string
	Model       string
	Endpoint    string
	Timeout     time.Duration
	TokenSource oauth2.TokenSource
}

// GeminiAnalyzer implements Analyzer using Google's Generative Language API.
type GeminiAnalyzer struct {
	apiKey      string
	model       string
	endpoint    string
	client      *http.Client
	tokenSource oauth2.TokenSource
	fetcher     *imageapi.Fetcher
	logger      *zap.Logger
}

// NewGeminiAnalyzer constructs a Gemini-powered room analyzer.
func NewGeminiAnalyzer(cfg Config, logger *zap.Logger) (*GeminiAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" && cfg.TokenSource == nil {
		return nil, fmt.Errorf("vision: missing API key or service account credentials")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return &GeminiAnalyzer{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       normalizeVisionModel(cfg.Model),
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		client:      client,
		tokenSource: cfg.TokenSource,
		fetcher:     imageapi.NewFetcherWithClient(client),
		logger:      logger.Named("vision"),
	}, nil
}

// Analyze loads the image behind a URL or data URI and analyses it.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, imageRef string) (design.VisionAnalysis, error) {
	if strings.TrimSpace(imageRef) == "" {
		return design.VisionAnalysis{}, ErrEmptyImage
	}
	data, mime, err := g.fetcher.Fetch(ctx, imageRef)
	if err != nil {
		return design.VisionAnalysis{}, fmt.Errorf("vision: load image: %w", err)
	}
	return g.AnalyzeBytes(ctx, data, mime)
}

// AnalyzeBytes runs analysis directly on uploaded image data.
func (g *GeminiAnalyzer) AnalyzeBytes(ctx context.Context, data []byte, mimeType string) (design.VisionAnalysis, error) {
	if len(data) == 0 {
		return design.VisionAnalysis{}, ErrEmptyImage
	}
	if len(data) > MaxVisionImageBytes {
		return design.VisionAnalysis{}, fmt.Errorf("vision: image exceeds %d bytes", MaxVisionImageBytes)
	}

	payload := map[string]any{
		"contents": []map[string]any{
			{
				"role": "user",
				"parts": []map[string]any{
					{"text": analysisPrompt},
					{
						"inline_data": map[string]string{
							"mime_type": imageapi.DetectMIME(data, mimeType),
							"data":      base64.StdEncoding.EncodeToString(data),
						},
					},
				},
			},
		},
		"generationConfig": map[string]any{
			"temperature":      0.1,
			"responseMimeType": "application/json",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return design.VisionAnalysis{}, fmt.Errorf("vision: marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, url.PathEscape(g.model))
	if g.tokenSource == nil {
		endpoint += "?key=" + url.QueryEscape(g.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return design.VisionAnalysis{}, fmt.Errorf("vision: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.tokenSource != nil {
		token, err := g.tokenSource.Token()
		if err != nil {
			return design.VisionAnalysis{}, fmt.Errorf("vision: fetch oauth token: %w", err)
		}
		token.SetAuthHeader(req)
	}

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return design.VisionAnalysis{}, fmt.Errorf("vision: perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, imageapi.MaxErrorBody))
		var failure struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		message := raw
		if json.Unmarshal(raw, &failure) == nil && failure.Error.Message != "" {
			message = []byte(failure.Error.Message)
		}
		return design.VisionAnalysis{}, fmt.Errorf("vision: %w", imageapi.NewStatusError(resp.StatusCode, message))
	}

	var completion struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return design.VisionAnalysis{}, fmt.Errorf("vision: decode response: %w", err)
	}
	if len(completion.Candidates) == 0 || len(completion.Candidates[0].Content.Parts) == 0 {
		return design.VisionAnalysis{}, fmt.Errorf("vision: empty response")
	}

	var text strings.Builder
	for _, part := range completion.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	analysis, err := parseVisionJSON(text.String())
	if err != nil {
		return design.VisionAnalysis{}, err
	}
	g.logger.Debug("room analysed",
		zap.String("model", g.model),
		zap.Duration("elapsed", time.Since(started)),
		zap.Bool("structure", analysis.Structure != nil),
	)
	return analysis, nil
}

// parseVisionJSON accepts bare JSON or JSON wrapped in prose or code fences,
// and normalises wall and finish names.
func parseVisionJSON(text string) (design.VisionAnalysis, error) {
	text = strings.TrimSpace(text)
	var analysis design.VisionAnalysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return design.VisionAnalysis{}, fmt.Errorf("vision: parse response: %w", err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &analysis); err != nil {
			return design.VisionAnalysis{}, fmt.Errorf("vision: parse response: %w", err)
		}
	}
	analysis.Summary = strings.TrimSpace(analysis.Summary)
	analysis.Structure = normalizeStructure(analysis.Structure)
	return analysis, nil
}

// normalizeStructure drops openings without a recognisable wall or a
// positive count. Columns and beams keep an empty wall when it is unknown.
// An empty result becomes nil.
func normalizeStructure(s *design.Structure) *design.Structure {
	if s == nil {
		return nil
	}
	out := &design.Structure{FinishLevel: design.NormalizeFinish(s.FinishLevel)}
	out.Windows = normalizeOpenings(s.Windows)
	out.Doors = normalizeOpenings(s.Doors)
	out.Columns = normalizeElements(s.Columns)
	out.Beams = normalizeElements(s.Beams)
	if len(out.Windows)+len(out.Doors)+len(out.Columns)+len(out.Beams) == 0 && out.FinishLevel == design.FinishUnknown {
		return nil
	}
	return out
}

func normalizeOpenings(in []design.Opening) []design.Opening {
	var out []design.Opening
	for _, o := range in {
		wall := design.NormalizeWall(o.Wall)
		if wall == "" || o.Count <= 0 {
			continue
		}
		out = append(out, design.Opening{Wall: wall, Count: o.Count})
	}
	return out
}

func normalizeElements(in []design.Element) []design.Element {
	var out []design.Element
	for _, e := range in {
		out = append(out, design.Element{Wall: design.NormalizeWall(e.Wall)})
	}
	return out
}

func normalizeVisionModel(model string) string {
	clean := strings.TrimSpace(model)
	clean = strings.TrimPrefix(clean, "models/")
	clean = strings.ToLower(clean)
	clean = strings.TrimSuffix(clean, "-latest")
	if clean == "" {
		return defaultVisionModel
	}
	return clean
}

package imageapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultGeminiImageModel = "gemini-2.5-flash-image"

// GeminiConfig configures the Gemini image client.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiClient renders images through Gemini image outputs. Gemini has no
// notion of steps, cfg scale or source weight; those parameters are ignored
// and the source photo is passed as a content part.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient constructs the genai client once for the process.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredentials
	}
	model := strings.TrimPrefix(strings.TrimSpace(cfg.Model), "models/")
	if model == "" {
		model = defaultGeminiImageModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("imageapi: create genai client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiClient{client: client, model: model, logger: logger.Named("imageapi.gemini")}, nil
}

// TextToImage implements Client.
func (g *GeminiClient) TextToImage(ctx context.Context, params Params) (Response, error) {
	return g.generate(ctx, genai.Text(params.Prompt), params)
}

// ImageToImage implements Client.
func (g *GeminiClient) ImageToImage(ctx context.Context, source Source, params Params) (Response, error) {
	var image *genai.Part
	switch {
	case source.Inline():
		image = genai.NewPartFromBytes(source.Data, DetectMIME(source.Data, source.MIME))
	case strings.TrimSpace(source.URL) != "":
		image = genai.NewPartFromURI(strings.TrimSpace(source.URL), DetectMIME(nil, source.MIME))
	default:
		return Response{}, fmt.Errorf("imageapi: image-to-image needs a source image")
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{image, genai.NewPartFromText(params.Prompt)}, genai.RoleUser),
	}
	return g.generate(ctx, contents, params)
}

func (g *GeminiClient) generate(ctx context.Context, contents []*genai.Content, params Params) (Response, error) {
	model := g.model
	if m := strings.TrimSpace(params.Model); m != "" {
		model = strings.TrimPrefix(m, "models/")
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	if params.Seed > 0 {
		config.Seed = genai.Ptr(int32(params.Seed % (1 << 31)))
	}
	if ratio := aspectRatio(params.Size); ratio != "" {
		config.ImageConfig = &genai.ImageConfig{AspectRatio: ratio}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Response{}, mapGenaiError(err)
	}

	out := Response{}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			out.Images = append(out.Images, Image{
				Data:         part.InlineData.Data,
				MIME:         DetectMIME(part.InlineData.Data, part.InlineData.MIMEType),
				FinishReason: string(cand.FinishReason),
				Seed:         params.Seed,
			})
		}
	}
	if _, ok := out.First(); !ok {
		g.logger.Debug("gemini returned no inline image", zap.String("model", model))
		return Response{}, ErrNoImage
	}
	return out, nil
}

func mapGenaiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		if code == 0 {
			code = http.StatusBadGateway
		}
		return fmt.Errorf("imageapi: gemini: %w", NewStatusError(code, []byte(apiErr.Message)))
	}
	return fmt.Errorf("imageapi: gemini: %w", err)
}

// aspectRatio maps a WxH size to the ratio names Gemini and Imagen accept.
func aspectRatio(size string) string {
	switch size {
	case "1024x1024":
		return "1:1"
	case "1280x960":
		return "4:3"
	case "960x1280":
		return "3:4"
	case "1280x720":
		return "16:9"
	case "720x1280":
		return "9:16"
	default:
		return ""
	}
}

package imageapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	textToImagePath  = "/v1/images/generations"
	imageToImagePath = "/v1/images/image-to-image"
)

// HTTPConfig configures the REST image client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient issues JSON requests to a REST image generation endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient constructs the REST client. The timeout covers a whole
// generation call, which is usually slow.
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("imageapi.http"),
	}
}

type generationRequest struct {
	Model          string   `json:"model,omitempty"`
	Prompt         string   `json:"prompt"`
	Image          string   `json:"image,omitempty"`
	SourceWeight   *float64 `json:"source_weight,omitempty"`
	Size           string   `json:"size,omitempty"`
	N              int      `json:"n"`
	ResponseFormat Format   `json:"response_format,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	Steps          int      `json:"steps,omitempty"`
	CFGScale       float64  `json:"cfg_scale,omitempty"`
}

type generatedImage struct {
	URL          string `json:"url"`
	B64JSON      string `json:"b64_json"`
	MIME         string `json:"mime_type"`
	FinishReason string `json:"finish_reason"`
	Seed         int64  `json:"seed"`
}

type generationResponse struct {
	Data   []generatedImage `json:"data"`
	Images []generatedImage `json:"images"`
}

// TextToImage implements Client.
func (c *HTTPClient) TextToImage(ctx context.Context, params Params) (Response, error) {
	return c.do(ctx, textToImagePath, c.payload(params))
}

// ImageToImage implements Client.
func (c *HTTPClient) ImageToImage(ctx context.Context, source Source, params Params) (Response, error) {
	payload := c.payload(params)
	switch {
	case source.Inline():
		payload.Image = EncodeDataURI(source.Data, source.MIME)
	case strings.TrimSpace(source.URL) != "":
		payload.Image = strings.TrimSpace(source.URL)
	default:
		return Response{}, fmt.Errorf("imageapi: image-to-image needs a source image")
	}
	if params.SourceWeight > 0 {
		w := params.SourceWeight
		payload.SourceWeight = &w
	}
	return c.do(ctx, imageToImagePath, payload)
}

func (c *HTTPClient) payload(params Params) generationRequest {
	n := params.N
	if n <= 0 {
		n = 1
	}
	req := generationRequest{
		Model:          params.Model,
		Prompt:         params.Prompt,
		Size:           params.Size,
		N:              n,
		ResponseFormat: params.Format,
		Steps:          params.Steps,
		CFGScale:       params.CFGScale,
	}
	if params.Seed > 0 {
		seed := params.Seed
		req.Seed = &seed
	}
	return req
}

func (c *HTTPClient) do(ctx context.Context, path string, payload generationRequest) (Response, error) {
	if c.apiKey == "" {
		return Response{}, ErrMissingCredentials
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("imageapi: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("imageapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("imageapi: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4*MaxImageBytes))
	if err != nil {
		return Response{}, fmt.Errorf("imageapi: read response: %w", err)
	}
	c.logger.Debug("upstream call",
		zap.String("path", path),
		zap.String("model", payload.Model),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode >= 300 {
		return Response{}, NewStatusError(resp.StatusCode, raw)
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, fmt.Errorf("imageapi: decode response: %w", err)
	}
	out, err := convert(append(decoded.Data, decoded.Images...))
	if err != nil {
		return Response{}, err
	}
	if _, ok := out.First(); !ok {
		return Response{}, ErrNoImage
	}
	return out, nil
}

func convert(images []generatedImage) (Response, error) {
	out := Response{Images: make([]Image, 0, len(images))}
	for _, img := range images {
		converted := Image{
			URL:          strings.TrimSpace(img.URL),
			MIME:         img.MIME,
			FinishReason: img.FinishReason,
			Seed:         img.Seed,
		}
		if encoded := strings.TrimSpace(img.B64JSON); encoded != "" {
			if IsDataURI(encoded) {
				data, mime, err := ParseDataURI(encoded)
				if err != nil {
					return Response{}, err
				}
				converted.Data, converted.MIME = data, mime
			} else {
				data, err := base64.StdEncoding.DecodeString(encoded)
				if err != nil {
					return Response{}, fmt.Errorf("imageapi: decode b64_json: %w", err)
				}
				converted.Data = data
				converted.MIME = DetectMIME(data, img.MIME)
			}
		}
		out.Images = append(out.Images, converted)
	}
	return out, nil
}

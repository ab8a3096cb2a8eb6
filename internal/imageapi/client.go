package imageapi

import (
	"context"
	"strings"
)

// Format is the response format requested from the upstream model.
type Format string

const (
	FormatURL    Format = "url"
	FormatBase64 Format = "b64_json"
)

// Flip returns the other response format.
func (f Format) Flip() Format {
	if f == FormatBase64 {
		return FormatURL
	}
	return FormatBase64
}

// ParseFormat accepts the wire names plus a few aliases.
func ParseFormat(raw string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "url":
		return FormatURL, true
	case "b64_json", "b64", "base64":
		return FormatBase64, true
	default:
		return "", false
	}
}

// Source is the conditioning image for an image-to-image call. Exactly one
// of URL or Data is expected to be set.
type Source struct {
	URL  string
	Data []byte
	MIME string
}

// Inline reports whether the source carries the image bytes itself.
func (s Source) Inline() bool {
	return len(s.Data) > 0
}

// Params are the generation parameters shared by both call types.
type Params struct {
	Model        string
	Prompt       string
	Size         string
	N            int
	Format       Format
	Seed         int64
	Steps        int
	CFGScale     float64
	SourceWeight float64
}

// Image is one generated image. Either URL or Data is set.
type Image struct {
	URL          string
	Data         []byte
	MIME         string
	FinishReason string
	Seed         int64
}

// Response is the decoded upstream answer.
type Response struct {
	Images []Image
}

// First returns the first image that actually carries a payload.
func (r Response) First() (Image, bool) {
	for _, img := range r.Images {
		if strings.TrimSpace(img.URL) != "" || len(img.Data) > 0 {
			return img, true
		}
	}
	return Image{}, false
}

// Client talks to an upstream image model.
type Client interface {
	TextToImage(ctx context.Context, params Params) (Response, error)
	ImageToImage(ctx context.Context, source Source, params Params) (Response, error)
}

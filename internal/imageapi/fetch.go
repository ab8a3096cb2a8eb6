package imageapi

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxImageBytes bounds every image read into memory.
const MaxImageBytes = 12 * 1024 * 1024

// ErrUnsupportedReference is returned for references the fetcher cannot
// resolve over HTTP.
var ErrUnsupportedReference = errors.New("imageapi: unsupported image reference")

// Fetcher downloads images referenced by URL or decodes data URIs.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher builds a fetcher with its own timeout for probe downloads.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, maxBytes: MaxImageBytes}
}

// NewFetcherWithClient is used by tests to inject an httptest client.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client, maxBytes: MaxImageBytes}
}

// Fetch returns the bytes and MIME type behind ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	if IsDataURI(ref) {
		return ParseDataURI(ref)
	}
	parsed, err := url.Parse(ref)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedReference, Identity(ref))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("imageapi: fetch request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("imageapi: fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBody))
		return nil, "", fmt.Errorf("imageapi: fetch image: %w", NewStatusError(resp.StatusCode, body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("imageapi: read image: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", fmt.Errorf("imageapi: image exceeds %d bytes", f.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("imageapi: empty image at %s", Identity(ref))
	}
	return data, DetectMIME(data, resp.Header.Get("Content-Type")), nil
}

// IsDataURI reports whether ref is an inline data reference.
func IsDataURI(ref string) bool {
	return strings.HasPrefix(strings.TrimSpace(ref), "data:")
}

// ParseDataURI decodes a base64 data URI.
func ParseDataURI(ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, "", errors.New("imageapi: invalid data URI")
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, "", errors.New("imageapi: data URI must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("imageapi: decode data URI: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("imageapi: empty data URI")
	}
	mime := strings.TrimSuffix(header, ";base64")
	return data, DetectMIME(data, mime), nil
}

// EncodeDataURI wraps bytes into a base64 data URI.
func EncodeDataURI(data []byte, mime string) string {
	return "data:" + DetectMIME(data, mime) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DetectMIME prefers the provided type and sniffs otherwise. Non-image types
// fall back to image/png.
func DetectMIME(data []byte, provided string) string {
	mime := strings.ToLower(strings.TrimSpace(provided))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if !strings.HasPrefix(mime, "image/") && len(data) > 0 {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return "image/png"
	}
	return mime
}

// Identity normalises an image reference for hashing and logging: data URIs
// collapse to a short content digest and URLs lose their query, fragment and
// credentials.
func Identity(ref string) string {
	ref = strings.TrimSpace(ref)
	if IsDataURI(ref) {
		_, payload, _ := strings.Cut(ref, ",")
		sum := sha256.Sum256([]byte(payload))
		return "inline:" + hex.EncodeToString(sum[:8])
	}
	parsed, err := url.Parse(ref)
	if err != nil || parsed.Host == "" {
		return ref
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + parsed.EscapedPath()
}

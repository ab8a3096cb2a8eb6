package imageapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// MaxErrorBody caps how much of an upstream error body is kept.
const MaxErrorBody = 512

var (
	// ErrNoImage means the upstream call succeeded but carried no image in
	// any of the expected fields.
	ErrNoImage = errors.New("imageapi: response carried no image")
	// ErrMissingCredentials means the client was built without an API key.
	ErrMissingCredentials = errors.New("imageapi: api credentials are not configured")
)

// StatusError is a non-2xx answer from the upstream endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("imageapi: upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("imageapi: upstream status %d: %s", e.StatusCode, e.Body)
}

// NewStatusError builds a StatusError with a trimmed, bounded body.
func NewStatusError(code int, body []byte) *StatusError {
	return &StatusError{StatusCode: code, Body: clip(strings.TrimSpace(string(body)), MaxErrorBody)}
}

// StatusOf extracts the upstream status and body from err.
func StatusOf(err error) (int, string, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, se.Body, true
	}
	return 0, "", false
}

// IsRateLimited reports an HTTP 429 from upstream.
func IsRateLimited(err error) bool {
	code, _, ok := StatusOf(err)
	return ok && code == http.StatusTooManyRequests
}

// IsTimeout reports deadline and network timeouts.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	code, _, ok := StatusOf(err)
	return ok && code == http.StatusGatewayTimeout
}

// IsTransient reports failures worth another attempt: rate limiting,
// server errors, timeouts and empty payloads.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoImage) || IsTimeout(err) {
		return true
	}
	if code, _, ok := StatusOf(err); ok {
		return code == http.StatusTooManyRequests || code >= 500
	}
	return false
}

// IsPermanent reports 4xx answers other than 429.
func IsPermanent(err error) bool {
	code, _, ok := StatusOf(err)
	return ok && code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for !utf8.ValidString(s) && len(s) > 0 {
		s = s[:len(s)-1]
	}
	return s
}

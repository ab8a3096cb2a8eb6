package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"roomRenderAi/internal/imageapi"
)

// Code is the machine readable failure class returned to callers.
type Code string

const (
	CodeInvalidRequest   Code = "invalid_request"
	CodeConfig           Code = "config_error"
	CodeUpstream         Code = "upstream_error"
	CodeUpstreamRejected Code = "upstream_rejected"
	CodeRateLimited      Code = "rate_limited"
	CodeTimeout          Code = "timeout"
	CodeCanceled         Code = "canceled"
)

// statusClientClosed is the conventional status for a request the client
// abandoned.
const statusClientClosed = 499

// Error is a user visible render failure.
type Error struct {
	Code           Code   `json:"code"`
	Message        string `json:"message"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	UpstreamBody   string `json:"upstream_body,omitempty"`
	Err            error  `json:"-"`
}

func (e *Error) Error() string {
	if e.UpstreamStatus > 0 {
		return fmt.Sprintf("%s: %s (upstream %d)", e.Code, e.Message, e.UpstreamStatus)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the code to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeConfig:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeCanceled:
		return statusClientClosed
	default:
		return http.StatusBadGateway
	}
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// canceled reports the caller's context ending.
func canceled(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "request deadline exceeded", Err: err}
	}
	return &Error{Code: CodeCanceled, Message: "request canceled by caller", Err: err}
}

// classify converts the last failure of the strategy chain.
func classify(err error, attempts int) *Error {
	var rendered *Error
	if errors.As(err, &rendered) {
		return rendered
	}

	out := &Error{Err: err}
	if status, body, ok := imageapi.StatusOf(err); ok {
		out.UpstreamStatus = status
		out.UpstreamBody = body
	}

	switch {
	case errors.Is(err, context.Canceled):
		return canceled(err)
	case errors.Is(err, imageapi.ErrMissingCredentials):
		out.Code = CodeConfig
		out.Message = "image API credentials are not configured"
	case imageapi.IsRateLimited(err):
		out.Code = CodeRateLimited
		out.Message = "image API rate limit reached, retry later"
	case imageapi.IsTimeout(err):
		out.Code = CodeTimeout
		out.Message = "image generation timed out"
	case imageapi.IsPermanent(err):
		out.Code = CodeUpstreamRejected
		out.Message = "image API rejected the request"
	case errors.Is(err, imageapi.ErrNoImage):
		out.Code = CodeUpstream
		out.Message = "image API returned no image"
	default:
		out.Code = CodeUpstream
		out.Message = "image generation failed"
	}
	if attempts > 1 {
		out.Message = fmt.Sprintf("%s after %d attempts", out.Message, attempts)
	}
	return out
}

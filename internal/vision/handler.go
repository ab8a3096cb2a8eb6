package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"roomRenderAi/internal/imageapi"
)

// Handler exposes the room analysis endpoint.
type Handler struct {
	Analyzer Analyzer
	Logger   *zap.Logger
}

// Analyze handles POST /api/vision/analyze. The image is given either as a
// JSON body with image_url (URL or data URI) or as a multipart image_file.
func (h Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	if h.Analyzer == nil {
		http.Error(w, "vision analysis inactive", http.StatusServiceUnavailable)
		return
	}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		h.handleMultipartAnalyze(w, r)
		return
	}

	var req struct {
		ImageURL string `json:"image_url"`
		Image    string `json:"image"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 2*MaxVisionImageBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	imageRef := strings.TrimSpace(req.ImageURL)
	if imageRef == "" {
		imageRef = strings.TrimSpace(req.Image)
	}
	if imageRef == "" {
		http.Error(w, "image_url is required", http.StatusBadRequest)
		return
	}

	result, err := h.Analyzer.Analyze(r.Context(), imageRef)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, result)
}

func (h Handler) handleMultipartAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxVisionImageBytes + (1 << 20)); err != nil {
		http.Error(w, fmt.Sprintf("could not parse form: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image_file")
	if err != nil {
		http.Error(w, "image_file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxVisionImageBytes+1))
	if err != nil {
		http.Error(w, "could not read file", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty file", http.StatusBadRequest)
		return
	}
	if len(data) > MaxVisionImageBytes {
		http.Error(w, fmt.Sprintf("file exceeds %d bytes", MaxVisionImageBytes), http.StatusBadRequest)
		return
	}

	mime := header.Header.Get("Content-Type")
	result, err := h.Analyzer.AnalyzeBytes(r.Context(), data, mime)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, result)
}

// fail maps analyzer errors: bad input is the caller's fault, everything
// else is reported as a gateway failure.
func (h Handler) fail(w http.ResponseWriter, err error) {
	if h.Logger != nil {
		h.Logger.Warn("vision analysis failed", zap.Error(err))
	}
	switch {
	case errors.Is(err, ErrEmptyImage), errors.Is(err, imageapi.ErrUnsupportedReference):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

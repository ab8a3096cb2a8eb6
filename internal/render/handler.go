package render

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"roomRenderAi/internal/design"
	"roomRenderAi/internal/events"
	"roomRenderAi/internal/storage"
)

// maxRequestBytes leaves room for an inline base64 source image.
const maxRequestBytes = 20 << 20

// inProgressRetryAfter is the Retry-After hint, in seconds, for in-progress
// responses.
const inProgressRetryAfter = 5

// Handler bundles dependencies for render endpoints.
type Handler struct {
	Orchestrator *Orchestrator
	Events       *events.Broker
	Logger       *zap.Logger
}

// Generate handles POST /api/render.
func (h Handler) Generate(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		writeError(w, &Error{Code: CodeConfig, Message: "render service inactive"})
		return
	}
	var req Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, invalidRequest("invalid request body"))
		return
	}

	resp, err := h.Orchestrator.Generate(r.Context(), req)
	if err != nil {
		h.logger().Info("render request failed", zap.String("client_id", req.ClientID), zap.Error(err))
		writeError(w, err)
		return
	}
	if resp.Status == StatusInProgress {
		w.Header().Set("Retry-After", strconv.Itoa(inProgressRetryAfter))
		writeJSONStatus(w, http.StatusAccepted, resp)
		return
	}
	writeJSONStatus(w, http.StatusOK, resp)
}

// PreviewPrompt handles POST /api/render/prompt. It builds the prompt
// without calling any upstream service.
func (h Handler) PreviewPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Intake *design.Intake `json:"intake"`
		Prompt string         `json:"prompt"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, invalidRequest("invalid request body"))
		return
	}
	result, err := ComposePrompt(req.Intake, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, result)
}

// JobStatus handles GET /api/render/jobs/{clientID}/{jobID}.
func (h Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	jobID := chi.URLParam(r, "jobID")
	if h.Orchestrator == nil {
		writeError(w, &Error{Code: CodeConfig, Message: "render service inactive"})
		return
	}

	rec, err := h.Orchestrator.Job(r.Context(), clientID, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.logger().Warn("job lookup failed", zap.String("client_id", clientID), zap.String("job_id", jobID), zap.Error(err))
		http.Error(w, "job lookup failed", http.StatusBadGateway)
		return
	}
	writeJSONStatus(w, http.StatusOK, rec)
}

// History handles GET /api/render/history?client_id=.
func (h Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		writeError(w, &Error{Code: CodeConfig, Message: "render service inactive"})
		return
	}
	items, err := h.Orchestrator.History(r.Context(), r.URL.Query().Get("client_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"items": items})
}

// StreamEvents handles GET /api/render/events?client_id=.
func (h Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		http.Error(w, "event stream inactive", http.StatusServiceUnavailable)
		return
	}
	h.Events.ServeSSE(w, r)
}

func (h Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

// writeError renders err as {"error":{...}}. Errors that are not *Error are
// reported as upstream failures without their text.
func writeError(w http.ResponseWriter, err error) {
	var rendered *Error
	if !errors.As(err, &rendered) {
		rendered = &Error{Code: CodeUpstream, Message: "render failed"}
	}
	writeJSONStatus(w, rendered.HTTPStatus(), map[string]any{"error": rendered})
}

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

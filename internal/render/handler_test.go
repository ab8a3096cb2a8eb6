package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomRenderAi/internal/jobs"
)

func newRouter(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/render", h.Generate)
	r.Post("/api/render/prompt", h.PreviewPrompt)
	r.Get("/api/render/jobs/{clientID}/{jobID}", h.JobStatus)
	r.Get("/api/render/history", h.History)
	r.Get("/api/render/events", h.StreamEvents)
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if s, ok := body.(string); ok {
		reader = strings.NewReader(s)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Code           Code   `json:"code"`
		Message        string `json:"message"`
		UpstreamStatus int    `json:"upstream_status"`
	} `json:"error"`
}

func TestHandler_Generate(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Options{})
	router := newRouter(Handler{Orchestrator: h.orch, Events: h.broker})

	rec := doJSON(t, router, http.MethodPost, "/api/render", h.request())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusDone, resp.Status)
	assert.NotEmpty(t, resp.ImageURL)
	assert.Equal(t, "j1", resp.JobID)

	rec = doJSON(t, router, http.MethodGet, "/api/render/jobs/c1/j1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"done"`)

	rec = doJSON(t, router, http.MethodGet, "/api/render/jobs/c1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/render/history?client_id=c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Items []struct {
			URL string `json:"url"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Items, 1)
	assert.Equal(t, resp.ImageURL, history.Items[0].URL)
}

func TestHandler_GenerateInProgress(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Options{})
	router := newRouter(Handler{Orchestrator: h.orch})
	h.tracker.Begin(context.Background(), "c1", "j1", "u1", "")

	rec := doJSON(t, router, http.MethodPost, "/api/render", h.request())
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"status":"in_progress"`)
}

func TestHandler_GenerateErrors(t *testing.T) {
	client := &fakeClient{script: []reply{status(http.StatusForbidden), status(http.StatusForbidden)}}
	h := newHarness(t, client, Options{})
	router := newRouter(Handler{Orchestrator: h.orch})

	rec := doJSON(t, router, http.MethodPost, "/api/render", `{"image":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := h.request()
	req.Image = ""
	rec = doJSON(t, router, http.MethodPost, "/api/render", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeInvalidRequest, body.Error.Code)
	assert.Equal(t, "image is required", body.Error.Message)

	rec = doJSON(t, router, http.MethodPost, "/api/render", h.request())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeUpstreamRejected, body.Error.Code)
	assert.Equal(t, http.StatusForbidden, body.Error.UpstreamStatus)

	rec = doJSON(t, newRouter(Handler{}), http.MethodPost, "/api/render", h.request())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_PreviewPrompt(t *testing.T) {
	router := newRouter(Handler{})

	rec := doJSON(t, router, http.MethodPost, "/api/render/prompt", map[string]any{
		"intake": map[string]any{"space": "廚房", "style": "現代簡約", "color": "純白為主"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Prompt  string   `json:"prompt"`
		Chars   int      `json:"prompt_chars"`
		Hash    string   `json:"prompt_hash"`
		Dropped []string `json:"dropped_fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Contains(t, result.Prompt, "kitchen")
	assert.Contains(t, result.Prompt, "Modern minimalist")
	assert.Contains(t, result.Prompt, "pure white")
	assert.LessOrEqual(t, result.Chars, 1024)
	assert.Len(t, result.Hash, 64)
	assert.NotNil(t, result.Dropped)

	rec = doJSON(t, router, http.MethodPost, "/api/render/prompt", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_HistoryAndEventsValidation(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Options{})
	router := newRouter(Handler{Orchestrator: h.orch})

	rec := doJSON(t, router, http.MethodGet, "/api/render/history", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/render/events?client_id=c1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	disabled := NewOrchestrator(Deps{Client: &fakeClient{}, Jobs: jobs.NewTracker(nil, 0, nil)}, Options{})
	rec = doJSON(t, newRouter(Handler{Orchestrator: disabled}), http.MethodGet, "/api/render/history?client_id=c1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

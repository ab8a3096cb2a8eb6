package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomRenderAi/internal/cache"
	"roomRenderAi/internal/design"
	"roomRenderAi/internal/events"
	"roomRenderAi/internal/imageapi"
	"roomRenderAi/internal/jobs"
	"roomRenderAi/internal/media"
	"roomRenderAi/internal/prompts"
	"roomRenderAi/internal/storage"
)

var (
	sourcePNG = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 64)...)
	resultPNG = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{2}, 64)...)
	refinePNG = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{3}, 64)...)
)

type upstreamCall struct {
	source imageapi.Source
	params imageapi.Params
}

type reply func(upstreamCall) (imageapi.Response, error)

// fakeClient answers calls from a script and records them. Once the script
// is exhausted every call returns resultPNG inline.
type fakeClient struct {
	mu     sync.Mutex
	calls  []upstreamCall
	script []reply
}

func (f *fakeClient) TextToImage(context.Context, imageapi.Params) (imageapi.Response, error) {
	return imageapi.Response{}, errors.New("unexpected text-to-image call")
}

func (f *fakeClient) ImageToImage(_ context.Context, source imageapi.Source, params imageapi.Params) (imageapi.Response, error) {
	f.mu.Lock()
	c := upstreamCall{source: source, params: params}
	f.calls = append(f.calls, c)
	i := len(f.calls) - 1
	f.mu.Unlock()
	if i < len(f.script) {
		return f.script[i](c)
	}
	return inline(resultPNG)(c)
}

func (f *fakeClient) Calls() []upstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upstreamCall(nil), f.calls...)
}

func inline(data []byte) reply {
	return func(upstreamCall) (imageapi.Response, error) {
		return imageapi.Response{Images: []imageapi.Image{{Data: data, MIME: "image/png", Seed: 42}}}, nil
	}
}

func hosted(url string) reply {
	return func(upstreamCall) (imageapi.Response, error) {
		return imageapi.Response{Images: []imageapi.Image{{URL: url}}}, nil
	}
}

func status(code int) reply {
	return func(upstreamCall) (imageapi.Response, error) {
		return imageapi.Response{}, imageapi.NewStatusError(code, []byte(`{"error":"nope"}`))
	}
}

func empty() reply {
	return func(upstreamCall) (imageapi.Response, error) {
		return imageapi.Response{Images: []imageapi.Image{{FinishReason: "SUCCESS"}}}, nil
	}
}

type harness struct {
	orch    *Orchestrator
	client  *fakeClient
	backend *cache.MemoryBackend
	tracker *jobs.Tracker
	store   *media.LocalStore
	broker  *events.Broker
	images  *httptest.Server

	mu    sync.Mutex
	slept []time.Duration
}

func newHarness(t *testing.T, client *fakeClient, opts Options) *harness {
	t.Helper()
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.png":
			http.NotFound(w, r)
		case "/result.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(resultPNG)
		default:
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(sourcePNG)
		}
	}))
	t.Cleanup(images.Close)

	store, err := media.NewLocalStore(t.TempDir(), "/media/")
	require.NoError(t, err)

	h := &harness{
		client:  client,
		backend: cache.NewMemoryBackend(0),
		tracker: jobs.NewTracker(storage.NewInMemoryJobStore(), 0, zap.NewNop()),
		store:   store,
		broker:  events.NewBroker(),
		images:  images,
	}
	deps := Deps{
		Fetcher: imageapi.NewFetcherWithClient(images.Client()),
		Cache:   cache.New(h.backend, zap.NewNop()),
		Jobs:    h.tracker,
		Store:   store,
		Events:  h.broker,
		Logger:  zap.NewNop(),
	}
	if client != nil {
		deps.Client = client
	}
	h.orch = NewOrchestrator(deps, opts)
	h.orch.sleep = func(_ context.Context, d time.Duration) error {
		h.mu.Lock()
		h.slept = append(h.slept, d)
		h.mu.Unlock()
		return nil
	}
	return h
}

func (h *harness) request() Request {
	return Request{
		Image:    h.images.URL + "/rooms/kitchen.jpg?sig=abc",
		Intake:   &design.Intake{Space: "廚房", Style: "現代簡約", Color: "純白為主", Intensity: "light"},
		ClientID: "c1",
		UploadID: "u1",
		JobID:    "j1",
	}
}

func renderCode(t *testing.T, err error) Code {
	t.Helper()
	var rendered *Error
	require.ErrorAs(t, err, &rendered)
	return rendered.Code
}

func TestGenerate_PersistsAndCachesResult(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Options{})
	ctx := context.Background()

	resp, err := h.orch.Generate(ctx, h.request())
	require.NoError(t, err)
	assert.Equal(t, StatusDone, resp.Status)
	assert.Equal(t, OriginGenerated, resp.Origin)
	assert.Equal(t, StrategyURL, resp.Strategy)
	assert.False(t, resp.Temporary)
	assert.True(t, strings.HasPrefix(resp.ImageURL, "/media/renders/c1/u1/"), resp.ImageURL)
	assert.Equal(t, resp.CacheKey[:16]+".png", resp.ImageURL[len(resp.ImageURL)-20:])
	assert.Equal(t, int64(42), resp.Seed)
	assert.Equal(t, imageapi.FormatURL, resp.Format)
	require.NotNil(t, resp.Prompt)
	assert.Contains(t, resp.Prompt.Prompt, "kitchen")

	calls := h.client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, h.images.URL+"/rooms/kitchen.jpg?sig=abc", calls[0].source.URL)
	assert.Equal(t, "1024x1024", calls[0].params.Size)
	assert.Equal(t, DefaultSourceWeight, calls[0].params.SourceWeight)
	assert.Equal(t, DefaultSteps, calls[0].params.Steps)
	assert.Equal(t, DefaultCFGScale, calls[0].params.CFGScale)

	stored, err := h.store.Get(ctx, resp.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, resultPNG, stored)

	entry, err := h.backend.Get(ctx, resp.CacheKey)
	require.NoError(t, err)
	assert.Equal(t, resp.ImageURL, entry.ResultRef)
	assert.Contains(t, string(entry.Debug), `"prompt_version":"`+prompts.Version+`"`)

	rec, err := h.tracker.Get(ctx, "c1", "j1")
	require.NoError(t, err)
	assert.Equal(t, storage.JobDone, rec.Status)
	assert.Equal(t, resp.ImageURL, rec.ResultRef)
	assert.Equal(t, resp.CacheKey, rec.CacheKey)

	history, err := h.orch.History(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, resp.StoragePath, history[0].Path)
}

func TestGenerate_SecondIdenticalRequestHitsCache(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Options{})
	ctx := context.Background()

	first, err := h.orch.Generate(ctx, h.request())
	require.NoError(t, err)

	req := h.request()
	req.JobID = "j2"
	second, err := h.orch.Generate(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, OriginCache, second.Origin)
	assert.Equal(t, first.CacheKey, second.CacheKey)
	assert.Equal(t, first.ImageURL, second.ImageURL)
	assert.Len(t, h.client.Calls(), 1)
}

func TestGenerate_ForbiddenURLFallsBackToInline(t *testing.T) {
	client := &fakeClient{script: []reply{status(http.StatusForbidden)}}
	h := newHarness(t, client, Options{})

	resp, err := h.orch.Generate(context.Background(), h.request())
	require.NoError(t, err)
	assert.Equal(t, StrategyBase64, resp.Strategy)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.False(t, calls[0].source.Inline())
	assert.True(t, calls[1].source.Inline())
	assert.Equal(t, sourcePNG, calls[1].source.Data)
	assert.Equal(t, "image/png", calls[1].source.MIME)

	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, http.StatusForbidden, resp.Attempts[0].Status)
}

func TestGenerate_EmptyPayloadFlipsFormat(t *testing.T) {
	client := &fakeClient{script: []reply{empty()}}
	h := newHarness(t, client, Options{})

	resp, err := h.orch.Generate(context.Background(), h.request())
	require.NoError(t, err)
	assert.Equal(t, StrategyURL, resp.Strategy)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, imageapi.FormatURL, calls[0].params.Format)
	assert.Equal(t, imageapi.FormatBase64, calls[1].params.Format)
	assert.True(t, resp.Attempts[1].Flipped)
}

func TestGenerate_RateLimitBacksOffOnce(t *testing.T) {
	client := &fakeClient{script: []reply{status(http.StatusTooManyRequests)}}
	h := newHarness(t, client, Options{RateLimitBackoff: 3 * time.Second})

	resp, err := h.orch.Generate(context.Background(), h.request())
	require.NoError(t, err)
	assert.Equal(t, StrategyURL, resp.Strategy)
	assert.Len(t, client.Calls(), 2)
	assert.Equal(t, []time.Duration{3 * time.Second}, h.slept)
}

func TestGenerate_RepeatedRateLimitStops(t *testing.T) {
	client := &fakeClient{script: []reply{status(http.StatusTooManyRequests), status(http.StatusTooManyRequests)}}
	h := newHarness(t, client, Options{})

	_, err := h.orch.Generate(context.Background(), h.request())
	require.Error(t, err)
	assert.Equal(t, CodeRateLimited, renderCode(t, err))
	assert.Len(t, client.Calls(), 2)

	var rendered *Error
	require.ErrorAs(t, err, &rendered)
	assert.Equal(t, http.StatusTooManyRequests, rendered.UpstreamStatus)
	assert.Equal(t, http.StatusTooManyRequests, rendered.HTTPStatus())

	rec, err := h.tracker.Get(context.Background(), "c1", "j1")
	require.NoError(t, err)
	assert.Equal(t, storage.JobFailed, rec.Status)
	assert.Contains(t, rec.Error, "rate_limited")
}

func TestGenerate_TransientFailuresReachRelaxedParams(t *testing.T) {
	client := &fakeClient{script: []reply{status(http.StatusServiceUnavailable), status(http.StatusBadGateway)}}
	h := newHarness(t, client, Options{})

	req := h.request()
	req.Params = ParamsInput{SourceWeight: 0.9, Steps: 50, CFGScale: 9}
	resp, err := h.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StrategyRelaxed, resp.Strategy)

	calls := client.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, 0.9, calls[0].params.SourceWeight)
	assert.Equal(t, 50, calls[1].params.Steps)

	relaxed := calls[2].params
	assert.Equal(t, 0.5, relaxed.SourceWeight)
	assert.Equal(t, 20, relaxed.Steps)
	assert.Equal(t, 5.0, relaxed.CFGScale)
	assert.True(t, calls[2].source.Inline(), "relaxed strategy reuses the fetched bytes")
}

func TestGenerate_ExhaustedChainReportsUpstream(t *testing.T) {
	client := &fakeClient{script: []reply{
		status(http.StatusServiceUnavailable),
		status(http.StatusServiceUnavailable),
		status(http.StatusServiceUnavailable),
	}}
	h := newHarness(t, client, Options{})

	_, err := h.orch.Generate(context.Background(), h.request())
	require.Error(t, err)

	var rendered *Error
	require.ErrorAs(t, err, &rendered)
	assert.Equal(t, CodeUpstream, rendered.Code)
	assert.Equal(t, http.StatusServiceUnavailable, rendered.UpstreamStatus)
	assert.Equal(t, `{"error":"nope"}`, rendered.UpstreamBody)
	assert.Contains(t, rendered.Message, "after 3 attempts")
	assert.Len(t, client.Calls(), 3)

	_, err = h.backend.Get(context.Background(), "anything")
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Zero(t, h.backend.Len())
}

func TestGenerate_PermanentInlineRejectionStops(t *testing.T) {
	client := &fakeClient{script: []reply{status(http.StatusForbidden), status(http.StatusBadRequest)}}
	h := newHarness(t, client, Options{})

	_, err := h.orch.Generate(context.Background(), h.request())
	assert.Equal(t, CodeUpstreamRejected, renderCode(t, err))
	assert.Len(t, client.Calls(), 2)
}

func TestGenerate_InlineSourceSkipsBase64(t *testing.T) {
	client := &fakeClient{script: []reply{status(http.StatusForbidden)}}
	h := newHarness(t, client, Options{})

	req := h.request()
	req.Image = imageapi.EncodeDataURI(sourcePNG, "image/png")
	_, err := h.orch.Generate(context.Background(), req)
	assert.Equal(t, CodeUpstreamRejected, renderCode(t, err))

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, sourcePNG, calls[0].source.Data)
}

func TestGenerate_UnreachableSourceStillTriesRelaxed(t *testing.T) {
	client := &fakeClient{script: []reply{status(http.StatusForbidden)}}
	h := newHarness(t, client, Options{})

	req := h.request()
	req.Image = h.images.URL + "/missing.png"
	_, err := h.orch.Generate(context.Background(), req)
	assert.Equal(t, CodeUpstreamRejected, renderCode(t, err))
	assert.Len(t, client.Calls(), 1, "a permanent URL rejection only allows the inline retry")

	var rendered *Error
	require.ErrorAs(t, err, &rendered)
	assert.Equal(t, http.StatusForbidden, rendered.UpstreamStatus)

	client = &fakeClient{script: []reply{status(http.StatusInternalServerError)}}
	h = newHarness(t, client, Options{})
	req = h.request()
	req.Image = h.images.URL + "/missing.png"
	resp, err := h.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StrategyRelaxed, resp.Strategy)
	assert.Equal(t, req.Image, client.Calls()[1].source.URL)
}

func TestGenerate_RefinementUsesFirstPass(t *testing.T) {
	client := &fakeClient{script: []reply{inline(resultPNG), inline(refinePNG)}}
	h := newHarness(t, client, Options{})

	req := h.request()
	req.Intake.Intensity = "大改"
	resp, err := h.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Refined)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, resultPNG, calls[1].source.Data)
	assert.Equal(t, 0.85, calls[1].params.SourceWeight)
	assert.Contains(t, calls[1].params.Prompt, prompts.RefineInstruction)
	assert.LessOrEqual(t, len([]rune(calls[1].params.Prompt)), prompts.HardLimit)

	stored, err := h.store.Get(context.Background(), resp.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, refinePNG, stored)
}

func TestGenerate_RefinementFailureKeepsFirstPass(t *testing.T) {
	client := &fakeClient{script: []reply{inline(resultPNG), status(http.StatusInternalServerError)}}
	h := newHarness(t, client, Options{})

	req := h.request()
	req.Intake.Intensity = ""
	resp, err := h.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, resp.Status)
	assert.False(t, resp.Refined)
	assert.Len(t, client.Calls(), 2)

	stored, err := h.store.Get(context.Background(), resp.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, resultPNG, stored)
}

func TestGenerate_RefineThresholdIsConfigurable(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{RefineThreshold: prompts.IntensityHeavy})

	req := h.request()
	req.Intake.Intensity = "medium"
	resp, err := h.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Refined)
	assert.Len(t, client.Calls(), 1)
}

type brokenStore struct{ media.Store }

func (brokenStore) Put(context.Context, media.PutInput) (media.Object, error) {
	return media.Object{}, errors.New("bucket unavailable")
}

func TestGenerate_PersistenceFailureReturnsTemporary(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{})
	client.script = []reply{hosted(h.images.URL + "/result.png")}
	h.orch.store = brokenStore{Store: h.store}

	resp, err := h.orch.Generate(context.Background(), h.request())
	require.NoError(t, err)
	assert.True(t, resp.Temporary)
	assert.Equal(t, h.images.URL+"/result.png", resp.ImageURL)
	assert.Empty(t, resp.StoragePath)

	entry, err := h.backend.Get(context.Background(), resp.CacheKey)
	require.NoError(t, err)
	assert.True(t, entry.Temporary)
}

func TestGenerate_InlineResultWithoutStorageBecomesDataURI(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Options{})
	h.orch.store = media.Disabled()

	resp, err := h.orch.Generate(context.Background(), h.request())
	require.NoError(t, err)
	assert.True(t, resp.Temporary)
	assert.Equal(t, imageapi.EncodeDataURI(resultPNG, "image/png"), resp.ImageURL)
}

func TestGenerate_Base64Output(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{})
	client.script = []reply{hosted(h.images.URL + "/result.png")}
	h.orch.store = media.Disabled()

	req := h.request()
	req.Params.ResponseFormat = "b64_json"
	resp, err := h.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, imageapi.FormatBase64, resp.Format)
	assert.Equal(t, base64.StdEncoding.EncodeToString(resultPNG), resp.ImageBase64)
	assert.Equal(t, h.images.URL+"/result.png", resp.ImageURL)

	req.JobID = "j2"
	again, err := h.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, resp.ImageBase64, again.ImageBase64)
}

func TestGenerate_JobDeduplication(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{})
	ctx := context.Background()

	h.tracker.Begin(ctx, "c1", "j1", "u1", "")
	resp, err := h.orch.Generate(ctx, h.request())
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, resp.Status)
	assert.Equal(t, "j1", resp.JobID)
	assert.Empty(t, client.Calls())

	h.tracker.Finish(ctx, "c1", "j1", jobs.Outcome{ResultRef: "https://cdn.example.com/done.png", MIME: "image/png"})
	resp, err = h.orch.Generate(ctx, h.request())
	require.NoError(t, err)
	assert.Equal(t, StatusDone, resp.Status)
	assert.Equal(t, OriginJob, resp.Origin)
	assert.Equal(t, "https://cdn.example.com/done.png", resp.ImageURL)
	assert.Empty(t, client.Calls())
}

func TestGenerate_StaleJobIsRegenerated(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{})
	ctx := context.Background()

	now := time.Now()
	h.tracker.WithClock(func() time.Time { return now })
	h.tracker.Begin(ctx, "c1", "j1", "u1", "")
	now = now.Add(jobs.DefaultStaleAfter + time.Second)

	resp, err := h.orch.Generate(ctx, h.request())
	require.NoError(t, err)
	assert.Equal(t, OriginGenerated, resp.Origin)
	assert.Len(t, client.Calls(), 1)
}

func TestGenerate_InvalidInputFailsFast(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{})

	cases := map[string]func(*Request){
		"missing image":  func(r *Request) { r.Image = "  " },
		"bad data uri":   func(r *Request) { r.Image = "data:image/png,raw" },
		"bad scheme":     func(r *Request) { r.Image = "ftp://example.com/a.png" },
		"relative url":   func(r *Request) { r.Image = "/rooms/a.png" },
		"nothing to say": func(r *Request) { r.Intake = nil; r.Prompt = "" },
		"blank prompt":   func(r *Request) { r.Intake = nil; r.Prompt = " \n\t " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := h.request()
			mutate(&req)
			_, err := h.orch.Generate(context.Background(), req)
			assert.Equal(t, CodeInvalidRequest, renderCode(t, err))
		})
	}
	assert.Empty(t, client.Calls())
}

func TestGenerate_MissingClientIsConfigError(t *testing.T) {
	h := newHarness(t, nil, Options{})
	_, err := h.orch.Generate(context.Background(), h.request())
	assert.Equal(t, CodeConfig, renderCode(t, err))
	assert.ErrorIs(t, err, imageapi.ErrMissingCredentials)
}

func TestGenerate_CanceledCallerStopsChain(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.orch.Generate(ctx, h.request())
	assert.Equal(t, CodeCanceled, renderCode(t, err))
	assert.Empty(t, client.Calls())
}

func TestGenerate_PublishesPhases(t *testing.T) {
	h := newHarness(t, &fakeClient{script: []reply{status(http.StatusForbidden)}}, Options{})
	ch := h.broker.Subscribe("c1")
	defer h.broker.Unsubscribe(ch)

	_, err := h.orch.Generate(context.Background(), h.request())
	require.NoError(t, err)

	var phases []events.Phase
	var strategies []string
	for len(ch) > 0 {
		evt := <-ch
		phases = append(phases, evt.Phase)
		if evt.Phase == events.PhaseGenerating {
			strategies = append(strategies, evt.Strategy)
		}
	}
	assert.Equal(t, []events.Phase{
		events.PhaseValidating,
		events.PhaseCacheCheck,
		events.PhaseGenerating,
		events.PhaseGenerating,
		events.PhasePersisting,
		events.PhaseDone,
	}, phases)
	assert.Equal(t, []string{"url", "base64"}, strategies)
}

func TestPrepare(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Options{Model: "m1"})

	req := h.request()
	req.Prompt = "  A   cosy reading nook  "
	req.JobID = ""
	req.SourceWidth, req.SourceHeight = 4032, 3024
	req.Params = ParamsInput{Steps: 30.5, CFGScale: 11, Seed: 7, ResponseFormat: "base64"}

	plan, err := h.orch.Prepare(req)
	require.NoError(t, err)
	assert.Equal(t, "A cosy reading nook", plan.Prompt.Prompt)
	assert.Equal(t, Size{1280, 960}, plan.Size)
	assert.NotEmpty(t, plan.Request.JobID)
	assert.Equal(t, Params{SourceWeight: DefaultSourceWeight, Steps: DefaultSteps, CFGScale: DefaultCFGScale, Seed: 7, Format: imageapi.FormatBase64}, plan.Params)
	assert.False(t, plan.Refine)

	req.Size = "720x1280"
	other, err := h.orch.Prepare(req)
	require.NoError(t, err)
	assert.Equal(t, Size{720, 1280}, other.Size)
	assert.NotEqual(t, plan.Key, other.Key)

	req.Size = "999x999"
	req.SourceWidth, req.SourceHeight = 0, 0
	req.Prompt = ""
	req.Intake.Dimensions = &design.Dimensions{WidthM: 3, HeightM: 4}
	fallback, err := h.orch.Prepare(req)
	require.NoError(t, err)
	assert.Equal(t, Size{960, 1280}, fallback.Size)
}

func TestParamsNormalize(t *testing.T) {
	assert.Equal(t, Params{SourceWeight: 0.65, Steps: 30, CFGScale: 7.5, Format: imageapi.FormatURL}, ParamsInput{}.Normalize())
	assert.Equal(t,
		Params{SourceWeight: 1, Steps: 100, CFGScale: 1, Seed: 4294967295, Format: imageapi.FormatBase64},
		ParamsInput{SourceWeight: 1, Steps: 100, CFGScale: 1, Seed: 4294967295, ResponseFormat: "b64_json"}.Normalize())
	assert.Equal(t,
		Params{SourceWeight: 0.65, Steps: 30, CFGScale: 7.5, Format: imageapi.FormatURL},
		ParamsInput{SourceWeight: 1.5, Steps: 0, CFGScale: 0.5, Seed: -3, ResponseFormat: "png"}.Normalize())
	assert.Equal(t, int64(0), ParamsInput{Seed: 4294967296}.Normalize().Seed)
}

// stallingClient never answers before its context ends.
type stallingClient struct {
	mu    sync.Mutex
	calls int
}

func (s *stallingClient) TextToImage(ctx context.Context, _ imageapi.Params) (imageapi.Response, error) {
	<-ctx.Done()
	return imageapi.Response{}, ctx.Err()
}

func (s *stallingClient) ImageToImage(ctx context.Context, _ imageapi.Source, _ imageapi.Params) (imageapi.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-ctx.Done()
	return imageapi.Response{}, ctx.Err()
}

func TestGenerate_UpstreamTimeout(t *testing.T) {
	h := newHarness(t, nil, Options{UpstreamTimeout: 10 * time.Millisecond})
	client := &stallingClient{}
	h.orch.client = client

	_, err := h.orch.Generate(context.Background(), h.request())
	require.Error(t, err)
	assert.Equal(t, CodeTimeout, renderCode(t, err))
	var rendered *Error
	require.ErrorAs(t, err, &rendered)
	assert.Equal(t, http.StatusGatewayTimeout, rendered.HTTPStatus())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, client.calls)

	rec, err := h.tracker.Get(context.Background(), "c1", "j1")
	require.NoError(t, err)
	assert.Equal(t, storage.JobFailed, rec.Status)
}

func TestGenerate_CallerDeadlineIsTimeout(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := h.orch.Generate(ctx, h.request())
	assert.Equal(t, CodeTimeout, renderCode(t, err))
	assert.Empty(t, client.Calls())
}

func TestGenerate_RateLimiterPastDeadlineIsTimeout(t *testing.T) {
	client := &fakeClient{script: []reply{status(http.StatusServiceUnavailable)}}
	h := newHarness(t, client, Options{RatePerSecond: 0.001, RateBurst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_, err := h.orch.Generate(ctx, h.request())
	assert.Equal(t, CodeTimeout, renderCode(t, err))
	assert.Len(t, client.Calls(), 1)
}

func TestPrepare_KeyChangesPerField(t *testing.T) {
	h := newHarness(t, &fakeClient{}, Options{})

	base, err := h.orch.Prepare(h.request())
	require.NoError(t, err)
	again, err := h.orch.Prepare(h.request())
	require.NoError(t, err)
	assert.Equal(t, base.Key, again.Key)

	mutations := map[string]func(r *Request){
		"image":           func(r *Request) { r.Image = h.images.URL + "/rooms/bedroom.jpg" },
		"size":            func(r *Request) { r.Size = "1280x720" },
		"source_weight":   func(r *Request) { r.Params.SourceWeight = 0.4 },
		"steps":           func(r *Request) { r.Params.Steps = 40 },
		"cfg_scale":       func(r *Request) { r.Params.CFGScale = 5 },
		"seed":            func(r *Request) { r.Params.Seed = 9 },
		"response_format": func(r *Request) { r.Params.ResponseFormat = "base64" },
		"space":           func(r *Request) { r.Intake.Space = "臥室" },
		"style":           func(r *Request) { r.Intake.Style = "北歐" },
		"color":           func(r *Request) { r.Intake.Color = "木質色" },
		"requirements":    func(r *Request) { r.Intake.Requirements = "reading corner" },
		"focus":           func(r *Request) { r.Intake.Focus = "lighting" },
		"storage":         func(r *Request) { r.Intake.Storage = "more cabinets" },
		"priority":        func(r *Request) { r.Intake.Priority = "budget" },
		"intensity":       func(r *Request) { r.Intake.Intensity = "heavy" },
		"dimensions":      func(r *Request) { r.Intake.Dimensions = &design.Dimensions{WidthM: 3, DepthM: 4} },
		"vision":          func(r *Request) { r.Intake.Vision = &design.VisionAnalysis{Summary: "a bright room"} },
		"prompt":          func(r *Request) { r.Prompt = "a minimalist kitchen" },
	}
	seen := map[string]string{base.Key: "base"}
	for field, mutate := range mutations {
		t.Run(field, func(t *testing.T) {
			req := h.request()
			mutate(&req)
			plan, err := h.orch.Prepare(req)
			require.NoError(t, err)
			assert.NotEqual(t, base.Key, plan.Key)
			if prev, dup := seen[plan.Key]; dup {
				t.Fatalf("%s produced the same key as %s", field, prev)
			}
			seen[plan.Key] = field
		})
	}

	other := NewOrchestrator(Deps{Client: &fakeClient{}}, Options{Model: "other-model"})
	plan, err := other.Prepare(h.request())
	require.NoError(t, err)
	assert.NotEqual(t, base.Key, plan.Key)
}

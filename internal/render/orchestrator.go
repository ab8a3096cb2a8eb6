package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"roomRenderAi/internal/cache"
	"roomRenderAi/internal/events"
	"roomRenderAi/internal/imageapi"
	"roomRenderAi/internal/jobs"
	"roomRenderAi/internal/media"
	"roomRenderAi/internal/prompts"
	"roomRenderAi/internal/storage"
)

// Options tune the orchestrator. Zero values select the defaults.
type Options struct {
	Model            string
	UpstreamTimeout  time.Duration
	RateLimitBackoff time.Duration
	RatePerSecond    float64
	RateBurst        int
	RefineThreshold  prompts.Intensity
	RefineWeight     float64
	DisableRefine    bool
	RenderPrefix     string
}

func (o Options) withDefaults() Options {
	if o.UpstreamTimeout <= 0 {
		o.UpstreamTimeout = 3 * time.Minute
	}
	if o.RateLimitBackoff < 0 {
		o.RateLimitBackoff = 0
	} else if o.RateLimitBackoff == 0 {
		o.RateLimitBackoff = 2 * time.Second
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	if o.RefineThreshold.Rank() == 0 {
		o.RefineThreshold = prompts.IntensityMedium
	}
	if o.RefineWeight <= 0 || o.RefineWeight > 1 {
		o.RefineWeight = 0.85
	}
	if o.RenderPrefix == "" {
		o.RenderPrefix = "renders"
	}
	return o
}

// Deps are the collaborators of the orchestrator. Only Client is required
// for generation; the rest degrade to no-ops when nil.
type Deps struct {
	Client  imageapi.Client
	Fetcher *imageapi.Fetcher
	Cache   *cache.ContentCache
	Jobs    *jobs.Tracker
	Store   media.Store
	Events  *events.Broker
	Logger  *zap.Logger
}

// Orchestrator runs render requests through cache, job tracking, the
// upstream fallback chain, refinement and persistence.
type Orchestrator struct {
	client  imageapi.Client
	fetcher *imageapi.Fetcher
	cache   *cache.ContentCache
	jobs    *jobs.Tracker
	store   media.Store
	events  *events.Broker
	logger  *zap.Logger
	limiter *rate.Limiter
	flight  singleflight.Group
	sleep   func(context.Context, time.Duration) error
	opts    Options
}

// NewOrchestrator wires the collaborators.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = imageapi.NewFetcher(30 * time.Second)
	}
	store := deps.Store
	if store == nil {
		store = media.Disabled()
	}
	o := &Orchestrator{
		client:  deps.Client,
		fetcher: fetcher,
		cache:   deps.Cache,
		jobs:    deps.Jobs,
		store:   store,
		events:  deps.Events,
		logger:  logger.Named("render"),
		sleep:   sleepContext,
		opts:    opts,
	}
	if opts.RatePerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RateBurst)
	}
	return o
}

// Plan is a validated request ready for generation.
type Plan struct {
	Request Request
	Source  imageapi.Source
	Prompt  prompts.Result
	Size    Size
	Params  Params
	Key     string
	Refine  bool
}

func (p *Plan) tracked() bool {
	return p.Request.ClientID != "" && p.Request.JobID != ""
}

// Prepare validates the request and derives prompt, size, parameters and
// cache key. It makes no upstream calls.
func (o *Orchestrator) Prepare(req Request) (*Plan, error) {
	req.Image = strings.TrimSpace(req.Image)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.UploadID = strings.TrimSpace(req.UploadID)
	req.JobID = strings.TrimSpace(req.JobID)

	source, err := sourceOf(req.Image)
	if err != nil {
		return nil, err
	}
	prompt, err := ComposePrompt(req.Intake, req.Prompt)
	if err != nil {
		return nil, err
	}
	if req.ClientID != "" && req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	plan := &Plan{
		Request: req,
		Source:  source,
		Prompt:  prompt,
		Size:    chooseSize(req),
		Params:  req.Params.Normalize(),
	}
	if req.Intake != nil && !o.opts.DisableRefine {
		plan.Refine = prompts.ResolveIntensity(req.Intake.Intensity).Rank() >= o.opts.RefineThreshold.Rank()
	}

	plan.Key, err = cache.ComputeKey(cache.KeyInput{
		Version: prompts.Version,
		Image:   req.Image,
		Size:    plan.Size.String(),
		Model:   o.opts.Model,
		Intake:  req.Intake,
		Prompt:  prompt.Prompt,
		Params:  plan.Params,
	})
	if err != nil {
		return nil, invalidRequest("request cannot be encoded: %v", err)
	}
	return plan, nil
}

// result is a produced or replayed image before output normalisation.
type result struct {
	Ref         string
	Data        []byte
	MIME        string
	Temporary   bool
	StoragePath string
	Strategy    StrategyName
	Refined     bool
	Seed        int64
	Attempts    []Attempt
	Debug       json.RawMessage
}

// Generate runs one render request to completion.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Response, error) {
	if o.client == nil {
		return nil, &Error{Code: CodeConfig, Message: "image API is not configured", Err: imageapi.ErrMissingCredentials}
	}

	o.emit(&Plan{Request: req}, events.PhaseValidating, "", "")
	plan, err := o.Prepare(req)
	if err != nil {
		o.emit(&Plan{Request: req}, events.PhaseFailed, "", err.Error())
		return nil, err
	}

	o.emit(plan, events.PhaseCacheCheck, "", "")
	if entry, ok := o.cache.Lookup(ctx, plan.Key); ok {
		o.logger.Info("render cache hit", zap.String("cache_key", plan.Key))
		if plan.tracked() {
			o.jobs.Finish(context.WithoutCancel(ctx), plan.Request.ClientID, plan.Request.JobID, jobs.Outcome{
				UploadID: plan.Request.UploadID, CacheKey: plan.Key, ResultRef: entry.ResultRef,
				StoragePath: entry.StoragePath, MIME: entry.MIME, Temporary: entry.Temporary,
			})
		}
		return o.finishResponse(ctx, plan, result{
			Ref: entry.ResultRef, MIME: entry.MIME, Temporary: entry.Temporary,
			StoragePath: entry.StoragePath, Debug: entry.Debug,
		}, OriginCache)
	}

	var startedAt time.Time
	if plan.tracked() {
		existing := o.jobs.CheckExisting(ctx, plan.Request.ClientID, plan.Request.JobID)
		switch existing.State {
		case jobs.StateDone:
			rec := existing.Record
			return o.finishResponse(ctx, plan, result{
				Ref: rec.ResultRef, MIME: rec.MIME, Temporary: rec.Temporary, StoragePath: rec.StoragePath,
			}, OriginJob)
		case jobs.StateInProgress:
			o.emit(plan, events.PhaseInProgress, "", "")
			return &Response{
				Status:   StatusInProgress,
				JobID:    plan.Request.JobID,
				CacheKey: plan.Key,
				Message:  "a generation for this job is already running, retry later",
			}, nil
		}
		o.jobs.Begin(ctx, plan.Request.ClientID, plan.Request.JobID, plan.Request.UploadID, plan.Key)
		startedAt = o.jobs.Now().UTC()
	}

	res, err := o.produceShared(ctx, plan)
	if err != nil {
		var rendered *Error
		if !errors.As(err, &rendered) {
			rendered = classify(err, 0)
		}
		if plan.tracked() {
			o.jobs.Finish(context.WithoutCancel(ctx), plan.Request.ClientID, plan.Request.JobID, jobs.Outcome{
				UploadID: plan.Request.UploadID, CacheKey: plan.Key, StartedAt: startedAt, Failure: rendered.Error(),
			})
		}
		o.emit(plan, events.PhaseFailed, "", rendered.Message)
		return nil, rendered
	}

	if plan.tracked() {
		o.jobs.Finish(context.WithoutCancel(ctx), plan.Request.ClientID, plan.Request.JobID, jobs.Outcome{
			UploadID: plan.Request.UploadID, CacheKey: plan.Key, StartedAt: startedAt,
			ResultRef: res.Ref, StoragePath: res.StoragePath, MIME: res.MIME, Temporary: res.Temporary,
		})
	}
	return o.finishResponse(ctx, plan, res, OriginGenerated)
}

// produceShared collapses concurrent identical requests inside the process.
// A follower whose leader was canceled runs the work itself.
func (o *Orchestrator) produceShared(ctx context.Context, plan *Plan) (result, error) {
	for i := 0; i < 2; i++ {
		ch := o.flight.DoChan(plan.Key, func() (any, error) {
			return o.produce(ctx, plan)
		})
		select {
		case <-ctx.Done():
			return result{}, canceled(ctx.Err())
		case out := <-ch:
			if out.Err != nil {
				var rendered *Error
				if out.Shared && ctx.Err() == nil && errors.As(out.Err, &rendered) && rendered.Code == CodeCanceled {
					continue
				}
				return result{}, out.Err
			}
			return out.Val.(result), nil
		}
	}
	return result{}, canceled(context.Canceled)
}

// produce runs the strategy chain, the optional refinement, persistence and
// the cache write.
func (o *Orchestrator) produce(ctx context.Context, plan *Plan) (result, error) {
	started := time.Now()
	st := &chainState{plan: plan}

	img, strategy, err := o.runChain(ctx, st)
	if err != nil {
		o.logger.Error("render failed",
			zap.String("cache_key", plan.Key),
			zap.Int("attempts", len(st.attempts)),
			zap.Error(err),
		)
		return result{}, err
	}

	refined := false
	if plan.Refine {
		if better, ok := o.refine(ctx, st, img); ok {
			img, refined = better, true
		}
	}

	o.emit(plan, events.PhasePersisting, "", "")
	res := o.persist(ctx, plan, img)
	res.Strategy = strategy
	res.Refined = refined
	res.Seed = img.Seed
	res.Attempts = st.attempts
	res.Debug = debugInfo(plan, res)

	o.cache.Store(context.WithoutCancel(ctx), plan.Key, cache.Entry{
		ResultRef:   res.Ref,
		StoragePath: res.StoragePath,
		Temporary:   res.Temporary,
		MIME:        res.MIME,
		Debug:       res.Debug,
	})

	o.logger.Info("render done",
		zap.String("cache_key", plan.Key),
		zap.String("strategy", string(strategy)),
		zap.Bool("refined", refined),
		zap.Bool("temporary", res.Temporary),
		zap.Int("attempts", len(st.attempts)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}

// refine runs the second pass on the first-pass image. Any failure keeps the
// first pass.
func (o *Orchestrator) refine(ctx context.Context, st *chainState, first imageapi.Image) (imageapi.Image, bool) {
	if ctx.Err() != nil {
		return imageapi.Image{}, false
	}
	o.emit(st.plan, events.PhaseRefining, StrategyRefine, "")

	source := imageapi.Source{URL: first.URL}
	if len(first.Data) > 0 {
		source = imageapi.Source{Data: first.Data, MIME: first.MIME}
	}
	params := o.upstreamParams(prompts.Refine(st.plan.Prompt.Prompt), st.plan.Params, st.plan.Size)
	params.SourceWeight = o.opts.RefineWeight

	img, err := o.call(ctx, st, StrategyRefine, source, params)
	if err != nil {
		o.logger.Warn("refinement failed, keeping first pass", zap.String("cache_key", st.plan.Key), zap.Error(err))
		return imageapi.Image{}, false
	}
	return img, true
}

// persist copies the image into the content store. On failure the upstream
// reference is kept and marked temporary.
func (o *Orchestrator) persist(ctx context.Context, plan *Plan, img imageapi.Image) result {
	res := result{Ref: img.URL, Data: img.Data, MIME: img.MIME, Temporary: true}
	saveCtx := context.WithoutCancel(ctx)

	err := func() error {
		if media.IsDisabled(o.store) {
			return media.ErrStoreDisabled
		}
		if len(res.Data) == 0 {
			data, mime, err := o.fetcher.Fetch(saveCtx, img.URL)
			if err != nil {
				return err
			}
			res.Data, res.MIME = data, mime
		}
		res.MIME = imageapi.DetectMIME(res.Data, res.MIME)
		obj, err := o.store.Put(saveCtx, media.PutInput{
			Path:        o.renderPath(plan, res.MIME),
			ContentType: res.MIME,
			Body:        bytes.NewReader(res.Data),
			Size:        int64(len(res.Data)),
			Public:      true,
		})
		if err != nil {
			return err
		}
		res.Ref, res.StoragePath, res.Temporary = obj.URL, obj.Path, false
		return nil
	}()
	if err != nil && !errors.Is(err, media.ErrStoreDisabled) {
		o.logger.Warn("persisting render failed, returning temporary reference", zap.String("cache_key", plan.Key), zap.Error(err))
	}

	if res.Ref == "" && len(res.Data) > 0 {
		res.Ref = imageapi.EncodeDataURI(res.Data, res.MIME)
	}
	if res.MIME == "" && len(res.Data) > 0 {
		res.MIME = imageapi.DetectMIME(res.Data, "")
	}
	return res
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func pathSegment(s, fallback string) string {
	s = strings.Trim(unsafeSegment.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return fallback
	}
	return s
}

// renderPath is renders/<client>/<upload>/<key prefix>.<ext>.
func (o *Orchestrator) renderPath(plan *Plan, mime string) string {
	ext := "png"
	switch mime {
	case "image/jpeg":
		ext = "jpg"
	case "image/webp":
		ext = "webp"
	}
	key := plan.Key
	if len(key) > 16 {
		key = key[:16]
	}
	return path.Join(o.opts.RenderPrefix,
		pathSegment(plan.Request.ClientID, "anonymous"),
		pathSegment(plan.Request.UploadID, "direct"),
		key+"."+ext)
}

func debugInfo(plan *Plan, res result) json.RawMessage {
	raw, err := json.Marshal(struct {
		PromptVersion string       `json:"prompt_version"`
		PromptHash    string       `json:"prompt_hash"`
		PromptChars   int          `json:"prompt_chars"`
		Dropped       []string     `json:"dropped_fields"`
		Size          string       `json:"size"`
		Strategy      StrategyName `json:"strategy"`
		Refined       bool         `json:"refined"`
		Attempts      []Attempt    `json:"attempts"`
	}{
		PromptVersion: prompts.Version,
		PromptHash:    plan.Prompt.Hash,
		PromptChars:   plan.Prompt.Chars,
		Dropped:       plan.Prompt.Dropped,
		Size:          plan.Size.String(),
		Strategy:      res.Strategy,
		Refined:       res.Refined,
		Attempts:      res.Attempts,
	})
	if err != nil {
		return nil
	}
	return raw
}

func (o *Orchestrator) emit(plan *Plan, phase events.Phase, strategy StrategyName, message string) {
	if o.events == nil || plan == nil || plan.Request.ClientID == "" {
		return
	}
	o.events.Publish(events.Event{
		ClientID: plan.Request.ClientID,
		JobID:    plan.Request.JobID,
		Phase:    phase,
		Strategy: string(strategy),
		Message:  message,
	})
}

// Job returns the stored job record.
func (o *Orchestrator) Job(ctx context.Context, clientID, jobID string) (storage.JobRecord, error) {
	return o.jobs.Get(ctx, clientID, jobID)
}

// History lists the persisted renders of a client, newest first.
func (o *Orchestrator) History(ctx context.Context, clientID string) ([]media.Object, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, invalidRequest("client_id is required")
	}
	prefix := path.Join(o.opts.RenderPrefix, pathSegment(clientID, "anonymous")) + "/"
	objects, err := o.store.List(ctx, prefix)
	if err != nil {
		if errors.Is(err, media.ErrStoreDisabled) {
			return nil, &Error{Code: CodeConfig, Message: "render storage is not configured", Err: err}
		}
		return nil, fmt.Errorf("render: list history: %w", err)
	}
	return objects, nil
}

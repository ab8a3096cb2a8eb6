package render

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"go.uber.org/zap"

	"roomRenderAi/internal/events"
	"roomRenderAi/internal/imageapi"
	"roomRenderAi/internal/prompts"
)

// Status of a render response.
const (
	StatusDone       = "done"
	StatusInProgress = "in_progress"
)

// Origin tells where a finished result came from.
type Origin string

const (
	OriginGenerated Origin = "generated"
	OriginCache     Origin = "cache"
	OriginJob       Origin = "job"
)

// Response is returned to the client for a render request.
type Response struct {
	Status      string          `json:"status"`
	JobID       string          `json:"job_id,omitempty"`
	CacheKey    string          `json:"cache_key"`
	Message     string          `json:"message,omitempty"`
	Origin      Origin          `json:"origin,omitempty"`
	CacheHit    bool            `json:"cache_hit"`
	Format      imageapi.Format `json:"response_format,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	ImageBase64 string          `json:"image_b64,omitempty"`
	MIME        string          `json:"mime,omitempty"`
	Temporary   bool            `json:"temporary"`
	StoragePath string          `json:"storage_path,omitempty"`
	Size        string          `json:"size,omitempty"`
	Strategy    StrategyName    `json:"strategy,omitempty"`
	Refined     bool            `json:"refined"`
	Seed        int64           `json:"seed,omitempty"`
	Prompt      *prompts.Result `json:"prompt,omitempty"`
	Attempts    []Attempt       `json:"attempts,omitempty"`
	Debug       json.RawMessage `json:"debug,omitempty"`
}

// finishResponse builds the response in the caller's requested format.
func (o *Orchestrator) finishResponse(ctx context.Context, plan *Plan, res result, origin Origin) (*Response, error) {
	prompt := plan.Prompt
	resp := &Response{
		Status:      StatusDone,
		JobID:       plan.Request.JobID,
		CacheKey:    plan.Key,
		Origin:      origin,
		CacheHit:    origin == OriginCache,
		MIME:        res.MIME,
		Temporary:   res.Temporary,
		StoragePath: res.StoragePath,
		Size:        plan.Size.String(),
		Strategy:    res.Strategy,
		Refined:     res.Refined,
		Seed:        res.Seed,
		Prompt:      &prompt,
		Attempts:    res.Attempts,
		Debug:       res.Debug,
	}
	o.normalizeOutput(ctx, resp, res, plan.Params.Format)
	o.emit(plan, events.PhaseDone, res.Strategy, string(origin))
	return resp, nil
}

// normalizeOutput fills the image handle in the requested form. Inline data
// becomes a data URI for URL callers; a reference is fetched and encoded for
// base64 callers. When that fetch fails the reference is returned as is.
func (o *Orchestrator) normalizeOutput(ctx context.Context, resp *Response, res result, want imageapi.Format) {
	ref := res.Ref
	if ref == "" && len(res.Data) > 0 {
		ref = imageapi.EncodeDataURI(res.Data, res.MIME)
	}

	if want != imageapi.FormatBase64 {
		resp.Format = imageapi.FormatURL
		resp.ImageURL = ref
		return
	}

	data, mime := res.Data, res.MIME
	if len(data) == 0 && res.StoragePath != "" {
		if stored, err := o.store.Get(ctx, res.StoragePath); err == nil {
			data = stored
		}
	}
	if len(data) == 0 {
		var err error
		data, mime, err = o.fetcher.Fetch(ctx, ref)
		if err != nil {
			o.logger.Warn("encoding result as base64 failed, returning reference",
				zap.String("ref", imageapi.Identity(ref)),
				zap.Error(err),
			)
			resp.Format = imageapi.FormatURL
			resp.ImageURL = ref
			return
		}
	}
	resp.Format = imageapi.FormatBase64
	resp.ImageBase64 = base64.StdEncoding.EncodeToString(data)
	resp.MIME = imageapi.DetectMIME(data, mime)
	if !imageapi.IsDataURI(ref) {
		resp.ImageURL = ref
	}
}

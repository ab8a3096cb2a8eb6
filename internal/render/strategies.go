package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"roomRenderAi/internal/events"
	"roomRenderAi/internal/imageapi"
)

// StrategyName identifies one step of the fallback chain.
type StrategyName string

const (
	StrategyURL     StrategyName = "url"
	StrategyBase64  StrategyName = "base64"
	StrategyRelaxed StrategyName = "relaxed_params"
	StrategyRefine  StrategyName = "refine"
)

var errNotApplicable = errors.New("render: strategy not applicable")

// sourceError marks a failure to obtain the base image bytes. It only
// stops the chain when the URL form was already rejected.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return "render: load base image: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// Attempt records one upstream call made for a request.
type Attempt struct {
	Strategy StrategyName `json:"strategy"`
	Status   int          `json:"status,omitempty"`
	Error    string       `json:"error,omitempty"`
	Flipped  bool         `json:"format_flipped,omitempty"`
}

// chainState is shared by the strategies of one chain run.
type chainState struct {
	plan     *Plan
	inline   *imageapi.Source
	attempts []Attempt
}

type strategy struct {
	name StrategyName
	run  func(ctx context.Context, st *chainState) (imageapi.Image, error)
}

func (o *Orchestrator) chain() []strategy {
	return []strategy{
		{name: StrategyURL, run: o.runAsGiven},
		{name: StrategyBase64, run: o.runInline},
		{name: StrategyRelaxed, run: o.runRelaxed},
	}
}

// runChain tries the strategies in order and stops at the first success.
// Transient failures advance; a permanent rejection of the URL form only
// advances to the inline form; a repeated 429 or any other permanent
// failure ends the chain.
func (o *Orchestrator) runChain(ctx context.Context, st *chainState) (imageapi.Image, StrategyName, error) {
	var (
		lastErr    error
		inlineOnly bool
	)
	for _, s := range o.chain() {
		if err := ctx.Err(); err != nil {
			return imageapi.Image{}, "", canceled(err)
		}
		if inlineOnly && s.name != StrategyBase64 {
			break
		}
		o.emit(st.plan, events.PhaseGenerating, s.name, "")

		img, err := s.run(ctx, st)
		if errors.Is(err, errNotApplicable) {
			continue
		}
		if err == nil {
			return img, s.name, nil
		}
		var srcErr *sourceError
		isSourceErr := errors.As(err, &srcErr)
		if !isSourceErr || lastErr == nil {
			lastErr = err
		}
		o.logger.Warn("render strategy failed",
			zap.String("cache_key", st.plan.Key),
			zap.String("strategy", string(s.name)),
			zap.Error(err),
		)

		urlRejected := inlineOnly
		inlineOnly = false
		stop := false
		switch {
		case errors.Is(err, context.Canceled):
			return imageapi.Image{}, "", canceled(err)
		case imageapi.IsRateLimited(err):
			return imageapi.Image{}, "", classify(err, len(st.attempts))
		case isSourceErr:
			stop = urlRejected
		case imageapi.IsTransient(err):
		case s.name == StrategyURL && imageapi.IsPermanent(err):
			inlineOnly = true
		default:
			stop = true
		}
		if stop {
			break
		}
	}
	if lastErr == nil {
		lastErr = imageapi.ErrNoImage
	}
	return imageapi.Image{}, "", classify(lastErr, len(st.attempts))
}

// runAsGiven submits the base image in the form the caller provided.
func (o *Orchestrator) runAsGiven(ctx context.Context, st *chainState) (imageapi.Image, error) {
	return o.call(ctx, st, StrategyURL, st.plan.Source, o.upstreamParams(st.plan.Prompt.Prompt, st.plan.Params, st.plan.Size))
}

// runInline downloads a URL source and resubmits the bytes.
func (o *Orchestrator) runInline(ctx context.Context, st *chainState) (imageapi.Image, error) {
	if st.plan.Source.Inline() {
		return imageapi.Image{}, errNotApplicable
	}
	if st.inline == nil {
		data, mime, err := o.fetcher.Fetch(ctx, st.plan.Source.URL)
		if err != nil {
			st.attempts = append(st.attempts, Attempt{Strategy: StrategyBase64, Error: err.Error()})
			return imageapi.Image{}, &sourceError{err: err}
		}
		st.inline = &imageapi.Source{Data: data, MIME: mime}
	}
	return o.call(ctx, st, StrategyBase64, *st.inline, o.upstreamParams(st.plan.Prompt.Prompt, st.plan.Params, st.plan.Size))
}

// runRelaxed retries once with conservative parameters, reusing the inline
// bytes when the previous strategy fetched them.
func (o *Orchestrator) runRelaxed(ctx context.Context, st *chainState) (imageapi.Image, error) {
	source := st.plan.Source
	if st.inline != nil {
		source = *st.inline
	}
	return o.call(ctx, st, StrategyRelaxed, source, o.upstreamParams(st.plan.Prompt.Prompt, st.plan.Params.Relaxed(), st.plan.Size))
}

func (o *Orchestrator) upstreamParams(prompt string, p Params, size Size) imageapi.Params {
	return imageapi.Params{
		Model:        o.opts.Model,
		Prompt:       prompt,
		Size:         size.String(),
		N:            1,
		Format:       p.Format,
		Seed:         p.Seed,
		Steps:        p.Steps,
		CFGScale:     p.CFGScale,
		SourceWeight: p.SourceWeight,
	}
}

// call performs one logical upstream call. An answer without an image is
// retried once with the response format flipped.
func (o *Orchestrator) call(ctx context.Context, st *chainState, name StrategyName, source imageapi.Source, params imageapi.Params) (imageapi.Image, error) {
	img, err := o.callOnce(ctx, st, name, source, params, false)
	if errors.Is(err, imageapi.ErrNoImage) {
		params.Format = params.Format.Flip()
		o.logger.Info("upstream returned no image, flipping response format",
			zap.String("strategy", string(name)),
			zap.String("format", string(params.Format)),
		)
		img, err = o.callOnce(ctx, st, name, source, params, true)
	}
	return img, err
}

// callOnce invokes the client, waiting out a single 429 before giving up.
func (o *Orchestrator) callOnce(ctx context.Context, st *chainState, name StrategyName, source imageapi.Source, params imageapi.Params, flipped bool) (imageapi.Image, error) {
	resp, err := o.invoke(ctx, source, params)
	st.record(name, err, flipped)
	if imageapi.IsRateLimited(err) {
		o.logger.Warn("upstream rate limited, backing off", zap.Duration("backoff", o.opts.RateLimitBackoff))
		if serr := o.sleep(ctx, o.opts.RateLimitBackoff); serr != nil {
			return imageapi.Image{}, serr
		}
		resp, err = o.invoke(ctx, source, params)
		st.record(name, err, flipped)
	}
	if err != nil {
		return imageapi.Image{}, err
	}
	img, ok := resp.First()
	if !ok {
		st.attempts[len(st.attempts)-1].Error = imageapi.ErrNoImage.Error()
		return imageapi.Image{}, imageapi.ErrNoImage
	}
	return img, nil
}

// invoke runs the client call detached from the caller's cancellation so a
// result that is already being produced still reaches the cache. The call
// is bounded by the upstream timeout instead.
func (o *Orchestrator) invoke(ctx context.Context, source imageapi.Source, params imageapi.Params) (imageapi.Response, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return imageapi.Response{}, ctxErr
			}
			if _, ok := ctx.Deadline(); ok {
				// the limiter refuses waits that would outlast the deadline
				return imageapi.Response{}, fmt.Errorf("render: rate limiter: %w: %v", context.DeadlineExceeded, err)
			}
			return imageapi.Response{}, err
		}
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.UpstreamTimeout)
	defer cancel()
	return o.client.ImageToImage(callCtx, source, params)
}

func (st *chainState) record(name StrategyName, err error, flipped bool) {
	a := Attempt{Strategy: name, Flipped: flipped}
	if err != nil {
		a.Error = err.Error()
		if status, _, ok := imageapi.StatusOf(err); ok {
			a.Status = status
		}
	}
	st.attempts = append(st.attempts, a)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

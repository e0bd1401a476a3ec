// Package coordinator implements the top-level inference flow (spec.md
// 4.8): resolve input, pick a variant, execute it against the router with
// cache-aware routing, validate tool calls/JSON output, and hand the result
// to an observability sink.
package coordinator

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/cache"
	"github.com/tzrouter/gateway/internal/collector"
	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/provider"
	"github.com/tzrouter/gateway/internal/router"
	"github.com/tzrouter/gateway/internal/toolschema"
	"github.com/tzrouter/gateway/internal/variant"
)

// Coordinator ties every other package together behind the single
// Infer/InferStream entry point the server calls per request.
type Coordinator struct {
	Functions map[string]FunctionConfig
	Models    map[string]router.Model

	Cache     *cache.Cache
	CacheMode cache.Mode

	Fetch content.FetchContext

	Observer Observer

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a Coordinator. seed fixes the weighted-variant-sampling PRNG
// for reproducible tests; pass a time-derived seed in production.
func New(functions map[string]FunctionConfig, models map[string]router.Model, c *cache.Cache, cacheMode cache.Mode, fetch content.FetchContext, obs Observer, seed int64) *Coordinator {
	if obs == nil {
		obs = NoopObserver{}
	}
	return &Coordinator{
		Functions: functions,
		Models:    models,
		Cache:     c,
		CacheMode: cacheMode,
		Fetch:     fetch,
		Observer:  obs,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// resolved bundles the lookups common to Infer and InferStream: which
// function (if any) and variant the request resolves to, and the effective
// tool config/output schema/variant weight it runs with.
type resolved struct {
	functionName string
	variantName  string
	functionType content.FunctionType
	toolConfig   *content.ToolCallConfig
	outputSchema []byte
	build        VariantFactory
	retry        variant.RetryConfig
}

func (c *Coordinator) resolve(req InferenceRequest) (resolved, error) {
	if req.ModelName != nil {
		m, ok := c.Models[*req.ModelName]
		if !ok {
			return resolved{}, apierror.Newf(apierror.KindUnknownModel, "unknown model %q", *req.ModelName)
		}
		ft := content.FunctionChat
		name := *req.ModelName
		return resolved{
			variantName:  name,
			functionType: ft,
			toolConfig:   req.DynamicToolConfig,
			outputSchema: req.OutputSchema,
			build: func(route variant.RouteFunc, ov CallOverrides) variant.Variant {
				return &variant.ChatCompletionVariant{
					VariantName: name,
					Model:       m,
					Options:     MergeOptions(variant.RequestOptions{FunctionType: ft, JSONMode: content.JSONModeOff}, ov),
					Route:       route,
				}
			},
		}, nil
	}

	fn, ok := c.Functions[*req.FunctionName]
	if !ok {
		return resolved{}, apierror.Newf(apierror.KindUnknownFunction, "unknown function %q", *req.FunctionName)
	}

	toolConfig := fn.ToolConfig
	if req.DynamicToolConfig != nil {
		toolConfig = req.DynamicToolConfig
	}
	schema := fn.OutputSchema
	if req.OutputSchema != nil {
		schema = req.OutputSchema
	}

	vName, def, err := c.selectVariant(fn, req.VariantName, req.Tags)
	if err != nil {
		return resolved{}, err
	}

	return resolved{
		functionName: fn.Name,
		variantName:  vName,
		functionType: fn.Type,
		toolConfig:   toolConfig,
		outputSchema: schema,
		build:        def.Factory,
		retry:        def.Retry,
	}, nil
}

// selectVariant picks a named variant if pinned is set, otherwise samples
// among the function's positive-weight variants (spec.md 4.8). Sampling is
// genuinely probabilistic — unlike the judge/fuser-failure tiebreak in
// internal/variant, there is no "same request, same answer" requirement
// here, so a plain PRNG draw is the right tool, not a rendezvous hash.
func (c *Coordinator) selectVariant(fn FunctionConfig, pinned *string, tags map[string]string) (string, VariantDef, error) {
	if pinned != nil {
		def, ok := fn.Variants[*pinned]
		if !ok {
			return "", VariantDef{}, apierror.Newf(apierror.KindInvalidRequest, "function %q has no variant %q", fn.Name, *pinned)
		}
		return *pinned, def, nil
	}

	weights := make(map[string]float64, len(fn.Variants))
	for name, def := range fn.Variants {
		weights[name] = def.Weight
	}
	if fn.RoutingPolicy != nil {
		adjusted, err := fn.RoutingPolicy.Adjust(tags, weights)
		if err != nil {
			return "", VariantDef{}, apierror.Wrap(apierror.KindConfig, err, "running routing policy script")
		}
		weights = adjusted
	}

	type candidate struct {
		name string
		def  VariantDef
	}
	var pool []candidate
	var total float64
	for name, def := range fn.Variants {
		w := weights[name]
		if w > 0 {
			pool = append(pool, candidate{name, def})
			total += w
		}
	}
	if len(pool) == 0 {
		return "", VariantDef{}, apierror.Newf(apierror.KindInvalidRequest, "function %q has no sampleable variant", fn.Name)
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].name < pool[j].name })

	c.mu.Lock()
	draw := c.rng.Float64() * total
	c.mu.Unlock()

	var cum float64
	for _, cand := range pool {
		cum += weights[cand.name]
		if draw < cum {
			return cand.name, cand.def, nil
		}
	}
	last := pool[len(pool)-1]
	return last.name, last.def, nil
}

// cacheMode resolves the effective cache mode for one call: the request's
// override if it set one, the coordinator's configured default otherwise.
func (c *Coordinator) cacheMode(req InferenceRequest) cache.Mode {
	if req.CacheOptions != nil {
		return req.CacheOptions.Mode
	}
	return c.CacheMode
}

// cachedRoute builds the RouteFunc a variant (and every nested best-of-N/
// mixture-of-N candidate) should call through: router.Route wrapped in
// cache.GetOrBuild, fingerprinted on the model name plus the fully-resolved
// request the variant actually sends (not the client's original request —
// a variant may add demonstrations or render templates). The request's
// ExtraCacheKey is part of the fingerprint, but no variant kind in this
// module sets it.
func (c *Coordinator) cachedRoute(mode cache.Mode) variant.RouteFunc {
	return func(ctx context.Context, m router.Model, req *content.ModelInferenceRequest) (*content.ModelInferenceResponse, error) {
		if c.Cache == nil {
			return router.Route(ctx, m, req)
		}

		fp := cache.Fingerprint{
			ModelName:     m.Name,
			Messages:      req.Messages,
			System:        req.System,
			ToolConfig:    req.ToolConfig,
			Temperature:   req.Temperature,
			TopP:          req.TopP,
			MaxTokens:     req.MaxTokens,
			Seed:          req.Seed,
			JSONMode:      req.JSONMode,
			OutputSchema:  req.OutputSchema,
			ExtraCacheKey: req.ExtraCacheKey,
		}

		resp, err := c.Cache.GetOrBuild(ctx, mode, fp, func(ctx context.Context) (content.ModelInferenceResponse, error) {
			r, err := router.Route(ctx, m, req)
			if err != nil {
				return content.ModelInferenceResponse{}, err
			}
			return *r, nil
		})
		if err != nil {
			return nil, err
		}
		return &resp, nil
	}
}

// Infer runs one non-streaming inference call end to end.
func (c *Coordinator) Infer(ctx context.Context, req InferenceRequest) (*InferenceResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	res, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	inferenceID := uuid.New()
	episodeID := uuid.New()
	if req.EpisodeID != nil {
		episodeID = *req.EpisodeID
	}

	resolvedInput, err := content.Resolve(ctx, c.Fetch, req.Input, req.FetchAndEncodeInputFiles)
	if err != nil {
		c.observe(ctx, inferenceID, episodeID, res, req, nil, time.Since(start), err)
		return nil, err
	}

	v := res.build(c.cachedRoute(c.cacheMode(req)), CallOverrides{Params: req.Params, ToolConfig: req.DynamicToolConfig, OutputSchema: req.OutputSchema})
	result, err := variant.WithRetry(ctx, v, *resolvedInput, res.retry)
	if err != nil {
		c.observe(ctx, inferenceID, episodeID, res, req, nil, time.Since(start), err)
		return nil, err
	}

	validateResult(&result, res.toolConfig, res.outputSchema)
	c.observe(ctx, inferenceID, episodeID, res, req, &result, time.Since(start), nil)

	resp := &InferenceResponse{
		InferenceID:  inferenceID,
		EpisodeID:    episodeID,
		VariantName:  result.VariantName,
		Usage:        result.TotalUsage(),
		FinishReason: result.FinishReason(),
	}
	switch result.Kind {
	case content.InferenceResultJSON:
		resp.JSON = result.JSON
	default:
		resp.Chat = result.Chat
	}
	if req.IncludeOriginalResponse && len(result.ModelResponses) > 0 {
		raw := result.ModelResponses[len(result.ModelResponses)-1].RawResponse
		resp.OriginalResponse = &raw
	}
	return resp, nil
}

// InferStream runs one streaming inference call. Only ChatCompletion/DICL
// variants support streaming (variant.StreamableVariant); best-of-N and
// mixture-of-N need every candidate's complete output before they can
// judge or fuse, so a streaming request that resolves to one of those is
// rejected rather than silently falling back to a buffered response.
func (c *Coordinator) InferStream(ctx context.Context, req InferenceRequest) (<-chan StreamEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.IncludeOriginalResponse {
		return nil, apierror.New(apierror.KindInvalidRequest, "include_original_response is incompatible with stream")
	}

	res, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	inferenceID := uuid.New()
	episodeID := uuid.New()
	if req.EpisodeID != nil {
		episodeID = *req.EpisodeID
	}

	resolvedInput, err := content.Resolve(ctx, c.Fetch, req.Input, req.FetchAndEncodeInputFiles)
	if err != nil {
		return nil, err
	}

	built := res.build(c.cachedRoute(c.cacheMode(req)), CallOverrides{Params: req.Params, ToolConfig: req.DynamicToolConfig, OutputSchema: req.OutputSchema})
	streamable, ok := built.(variant.StreamableVariant)
	if !ok {
		return nil, apierror.Newf(apierror.KindInvalidRequest, "variant %q does not support streaming", res.variantName)
	}

	model, modelReq, err := streamable.PrepareStream(ctx, *resolvedInput)
	if err != nil {
		return nil, err
	}

	ch, _, err := router.RouteStream(ctx, model, modelReq)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go c.pumpStream(ctx, ch, out, inferenceID, episodeID, res, req, model.Name, time.Now())
	return out, nil
}

// pumpStream forwards each chunk to out as it arrives while also folding
// it through a collector.Accumulator (C6), so the observation recorded
// once the stream ends reflects the same structured result a
// non-streaming call would have produced (spec.md 4.4: "streaming calls
// additionally pass chunks through C6"). The live forward can't simply
// hand the channel to collector.Collect, since that drains it
// synchronously with no hook to re-emit anything to the client.
func (c *Coordinator) pumpStream(ctx context.Context, ch <-chan provider.StreamChunk, out chan<- StreamEvent, inferenceID, episodeID uuid.UUID, res resolved, req InferenceRequest, modelName string, start time.Time) {
	defer close(out)

	acc := collector.NewAccumulator()

	for {
		select {
		case <-ctx.Done():
			out <- StreamEvent{InferenceID: inferenceID, EpisodeID: episodeID, VariantName: res.variantName, Err: ctx.Err(), Done: true}
			c.observeStreamEnd(ctx, inferenceID, episodeID, res, req, modelName, time.Since(start), acc.Result(ctx.Err()))
			return
		case chunk, ok := <-ch:
			if !ok {
				out <- StreamEvent{InferenceID: inferenceID, EpisodeID: episodeID, VariantName: res.variantName, Done: true}
				c.observeStreamEnd(ctx, inferenceID, episodeID, res, req, modelName, time.Since(start), acc.Result(nil))
				return
			}
			acc.Add(chunk)

			evt := StreamEvent{InferenceID: inferenceID, EpisodeID: episodeID, VariantName: res.variantName, Blocks: chunk.Blocks}
			if chunk.Usage != nil {
				u := *chunk.Usage
				evt.Usage = &u
			}
			if chunk.Error != nil {
				evt.Err = chunk.Error
				evt.Done = true
				out <- evt
				c.observeStreamEnd(ctx, inferenceID, episodeID, res, req, modelName, time.Since(start), acc.Result(chunk.Error))
				return
			}

			out <- evt
			if chunk.Done {
				c.observeStreamEnd(ctx, inferenceID, episodeID, res, req, modelName, time.Since(start), acc.Result(nil))
				return
			}
		}
	}
}

func (c *Coordinator) observeStreamEnd(ctx context.Context, inferenceID, episodeID uuid.UUID, res resolved, req InferenceRequest, modelName string, latency time.Duration, cr collector.Result) {
	var result *content.InferenceResult
	if cr.Err == nil || len(cr.Output) > 0 {
		r := &content.InferenceResult{
			VariantName:    res.variantName,
			ModelResponses: []content.ModelInferenceResponseWithMetadata{},
		}
		switch res.functionType {
		case content.FunctionJSON:
			r.Kind = content.InferenceResultJSON
			var raw string
			for _, b := range cr.Output {
				if b.Type == content.BlockTypeText && b.Text != nil {
					raw += b.Text.Text
				}
			}
			r.JSON = &content.JSONResult{Raw: raw}
		default:
			r.Kind = content.InferenceResultChat
			for _, b := range cr.Output {
				cb := content.ChatOutputBlock{Type: b.Type, Text: b.Text, Thought: b.Thought, Unknown: b.Unknown}
				if b.Type == content.BlockTypeToolCall && b.ToolCall != nil {
					cb.ToolCall = &content.ValidatedToolCall{ID: b.ToolCall.ID, RawName: b.ToolCall.Name, RawArguments: b.ToolCall.Arguments}
				}
				r.Chat = append(r.Chat, cb)
			}
		}
		validateResult(r, res.toolConfig, res.outputSchema)
		result = r
	}
	name := res.functionName
	if name == "" && req.ModelName != nil {
		name = "tensorzero::model::" + *req.ModelName
	}
	c.Observer.Observe(ctx, InferenceRecord{
		InferenceID:  inferenceID,
		EpisodeID:    episodeID,
		FunctionName: name,
		VariantName:  res.variantName,
		ModelName:    modelName,
		Result:       result,
		Usage:        cr.Usage,
		Latency:      latency,
		Err:          cr.Err,
		Tags:         req.Tags,
	})
}

func (c *Coordinator) observe(ctx context.Context, inferenceID, episodeID uuid.UUID, res resolved, req InferenceRequest, result *content.InferenceResult, latency time.Duration, err error) {
	name := res.functionName
	if name == "" && req.ModelName != nil {
		name = "tensorzero::model::" + *req.ModelName
	}
	var usage content.Usage
	var modelName string
	if result != nil {
		usage = result.TotalUsage()
		if n := len(result.ModelResponses); n > 0 {
			modelName = result.ModelResponses[n-1].ModelName
		}
	}
	c.Observer.Observe(ctx, InferenceRecord{
		InferenceID:  inferenceID,
		EpisodeID:    episodeID,
		FunctionName: name,
		VariantName:  res.variantName,
		ModelName:    modelName,
		Result:       result,
		Usage:        usage,
		Latency:      latency,
		Err:          err,
		Tags:         req.Tags,
	})
}

// validateResult applies C7 validation to a finished InferenceResult: tool
// calls are resolved against toolConfig, JSON output against outputSchema.
// This happens once, here, after the variant (and any judge/fuser inside
// it) has already picked the winning candidate — running it once per
// candidate inside the variant would validate output that might never be
// returned.
func validateResult(result *content.InferenceResult, toolConfig *content.ToolCallConfig, outputSchema []byte) {
	switch result.Kind {
	case content.InferenceResultJSON:
		if result.JSON == nil {
			return
		}
		out := toolschema.ValidateJSONOutput(result.JSON.Raw, outputSchema)
		result.JSON = &content.JSONResult{Parsed: out.Parsed, Raw: out.Raw}
	default:
		for i, block := range result.Chat {
			if block.Type != content.BlockTypeToolCall || block.ToolCall == nil || toolConfig == nil {
				continue
			}
			validated := toolschema.ValidateToolCall(toolConfig, &content.ToolCallBlock{
				ID:        block.ToolCall.ID,
				Name:      block.ToolCall.RawName,
				Arguments: block.ToolCall.RawArguments,
			})
			result.Chat[i].ToolCall = validated
		}
	}
}

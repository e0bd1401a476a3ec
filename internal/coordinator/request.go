package coordinator

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/cache"
	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/variant"
)

// RequestParams carries the sampling overrides a caller may supply on a
// single inference call, merged over the variant's own configured defaults
// (spec.md 4.2, request params win over variant/model-provider params).
type RequestParams struct {
	Temperature      *float32
	TopP             *float32
	MaxTokens        *int
	PresencePenalty  *float32
	FrequencyPenalty *float32
	Seed             *int
}

// merge returns opts with any field RequestParams sets overriding opts'
// existing value, leaving opts' value untouched where the request left a
// field nil.
func (p RequestParams) merge(opts variant.RequestOptions) variant.RequestOptions {
	if p.Temperature != nil {
		opts.Temperature = p.Temperature
	}
	if p.TopP != nil {
		opts.TopP = p.TopP
	}
	if p.MaxTokens != nil {
		opts.MaxTokens = p.MaxTokens
	}
	if p.PresencePenalty != nil {
		opts.PresencePenalty = p.PresencePenalty
	}
	if p.FrequencyPenalty != nil {
		opts.FrequencyPenalty = p.FrequencyPenalty
	}
	if p.Seed != nil {
		opts.Seed = p.Seed
	}
	return opts
}

// CacheOptions is a per-call override of the gateway's default cache mode
// (spec.md 4.7, "a request may override the configured cache mode").
type CacheOptions struct {
	Mode cache.Mode
}

// InferenceRequest is the decoded body of a /v1/inference call (spec.md
// section 6).
type InferenceRequest struct {
	FunctionName *string
	ModelName    *string
	VariantName  *string

	EpisodeID *uuid.UUID
	Input     content.Input

	Stream bool
	Params RequestParams
	Tags   map[string]string

	CacheOptions *CacheOptions

	IncludeOriginalResponse bool

	// FetchAndEncodeInputFiles controls whether File input blocks are
	// fetched/decoded before inference or passed through unresolved
	// (spec.md 4.1/4.8).
	FetchAndEncodeInputFiles bool

	// DynamicToolConfig, when set, replaces the function's configured
	// tool config for this call only (spec.md 4.5, "dynamic tool
	// configuration").
	DynamicToolConfig *content.ToolCallConfig

	// OutputSchema, when set, overrides the function's configured output
	// schema for this call only (spec.md 4.5, "dynamic output schemas").
	OutputSchema json.RawMessage

	// ExtraCacheKey is carried on the request but the coordinator does not
	// read it: the cache fingerprint takes its ExtraCacheKey from the
	// content.ModelInferenceRequest a variant builds, not from this field.
	ExtraCacheKey string
}

// Validate checks the structural constraints spec.md section 6 places on a
// request, independent of whether the named function/model/variant
// actually exist (existence is checked once the coordinator looks them up).
func (r InferenceRequest) Validate() error {
	hasFunction := r.FunctionName != nil
	hasModel := r.ModelName != nil

	if hasFunction == hasModel {
		return apierror.New(apierror.KindInvalidRequest, "exactly one of function_name or model_name must be set")
	}
	if r.VariantName != nil && !hasFunction {
		return apierror.New(apierror.KindInvalidRequest, "variant_name requires function_name")
	}
	if r.IncludeOriginalResponse && r.Stream {
		return apierror.New(apierror.KindInvalidRequest, "include_original_response is incompatible with stream")
	}
	return nil
}

// InferenceResponse is the non-streaming /v1/inference response body.
type InferenceResponse struct {
	InferenceID uuid.UUID
	EpisodeID   uuid.UUID
	VariantName string

	Chat []content.ChatOutputBlock
	JSON *content.JSONResult

	Usage        content.Usage
	FinishReason *content.FinishReason

	// OriginalResponse is the raw provider response body of the last
	// underlying model call, populated only when the request asked for
	// it (spec.md section 6, include_original_response).
	OriginalResponse *string
}

// StreamEvent is one event of a streaming /v1/inference response: either a
// content delta or a terminal error. The server translates these into SSE
// frames (internal/stream).
type StreamEvent struct {
	InferenceID uuid.UUID
	EpisodeID   uuid.UUID
	VariantName string

	Blocks []content.OutputBlock
	Usage  *content.Usage

	Done bool
	Err  error
}

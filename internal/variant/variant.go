// Package variant implements the four variant kinds a function can run:
// chat-completion, best-of-N, mixture-of-N, and dynamic in-context
// learning (spec.md 4.6).
package variant

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/dgryski/go-rendezvous"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/router"
)

// RetryConfig wraps an entire variant execution, not individual provider
// calls — C5's provider fallback already handles the per-provider retry;
// this is the outer retry for when the whole variant (including its
// judge/fuser calls) fails.
type RetryConfig struct {
	NumRetries int
	MaxDelay   time.Duration
}

func (r RetryConfig) delay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * 250 * time.Millisecond
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// Variant is one function-variant's execution strategy. Execute returns a
// fully-formed InferenceResult on success; Kind-specific details (template
// rendering, candidate fan-out, retrieval) all happen inside.
type Variant interface {
	Name() string
	Execute(ctx context.Context, input content.ResolvedInput) (content.InferenceResult, error)
}

// WithRetry runs v.Execute, retrying the whole variant up to rc.NumRetries
// additional times on failure. Context cancellation always aborts
// immediately regardless of remaining retries.
func WithRetry(ctx context.Context, v Variant, input content.ResolvedInput, rc RetryConfig) (content.InferenceResult, error) {
	var lastErr error
	for attempt := 0; attempt <= rc.NumRetries; attempt++ {
		result, err := v.Execute(ctx, input)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == rc.NumRetries {
			break
		}
		select {
		case <-time.After(rc.delay(attempt)):
		case <-ctx.Done():
			return content.InferenceResult{}, ctx.Err()
		}
	}
	return content.InferenceResult{}, lastErr
}

// buildRequest assembles the ModelInferenceRequest common to every variant
// kind from a resolved input plus the per-call overrides a coordinator has
// already resolved (tool config, JSON schema, sampling params).
func buildRequest(messages []content.RequestMessage, system *string, opts RequestOptions) *content.ModelInferenceRequest {
	return &content.ModelInferenceRequest{
		Messages:         messages,
		System:           system,
		ToolConfig:       opts.ToolConfig,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		MaxTokens:        opts.MaxTokens,
		PresencePenalty:  opts.PresencePenalty,
		FrequencyPenalty: opts.FrequencyPenalty,
		Seed:             opts.Seed,
		JSONMode:         opts.JSONMode,
		FunctionType:     opts.FunctionType,
		OutputSchema:     opts.OutputSchema,
		ExtraBody:        opts.ExtraBody,
		ExtraHeaders:     opts.ExtraHeaders,
	}
}

// RequestOptions carries the per-call parameters that are resolved once by
// the coordinator (request params merged over variant/function defaults)
// and threaded unchanged through every variant kind.
type RequestOptions struct {
	ToolConfig       *content.ToolCallConfig
	Temperature      *float32
	TopP             *float32
	MaxTokens        *int
	PresencePenalty  *float32
	FrequencyPenalty *float32
	Seed             *int
	JSONMode         content.JSONMode
	FunctionType     content.FunctionType
	OutputSchema     []byte
	ExtraBody        []content.ExtraBody
	ExtraHeaders     []content.ExtraHeader
}

func modelResponseFromRoute(name, variantName string, resp *content.ModelInferenceResponse) content.ModelInferenceResponseWithMetadata {
	return content.ModelInferenceResponseWithMetadata{
		ModelInferenceResponse: *resp,
		ModelName:              name,
	}
}

// inputKey derives a stable string key from a resolved input, used to seed
// the deterministic judge/fuser-failure pick in randomSuccess. Two
// executions of the same conversation land on the same candidate; this is
// not a cache fingerprint and deliberately ignores everything but the
// message content.
func inputKey(input content.ResolvedInput) string {
	b, err := json.Marshal(input.Messages)
	if err != nil {
		return ""
	}
	return string(b)
}

func fnvHash(s string, seed uint64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	var b [8]byte
	for i := range b {
		b[i] = byte(seed >> (8 * i))
	}
	h.Write(b[:])
	return h.Sum64()
}

// randomSuccess picks a candidate among the indices marked true in ok.
// The judge/fuser failure path has no "correct" candidate to prefer, so
// instead of re-rolling a fresh PRNG draw every call (which would let the
// same request return a different answer on every retry), the pick is a
// rendezvous hash over the candidate set keyed by requestKey: the same
// request always resolves to the same candidate, and adding or removing a
// candidate only reshuffles the pick for requests that hashed near the
// changed slot.
func randomSuccess(ok []bool, requestKey string) int {
	candidates := make([]int, 0, len(ok))
	nodes := make([]string, 0, len(ok))
	for i, v := range ok {
		if v {
			candidates = append(candidates, i)
			nodes = append(nodes, strconv.Itoa(i))
		}
	}
	if len(candidates) == 0 {
		return -1
	}

	r := rendezvous.New(nodes, fnvHash)
	picked := r.Lookup(requestKey)
	for _, i := range candidates {
		if strconv.Itoa(i) == picked {
			return i
		}
	}
	return candidates[0]
}

var errAllCandidatesFailed = apierror.New(apierror.KindModelProvidersExhausted, "all candidate variants failed")

// RouteFunc matches router.Route's signature. Variants take it as a field
// rather than calling router.Route directly so tests can substitute a
// fake without spinning up real providers.
type RouteFunc func(ctx context.Context, m router.Model, req *content.ModelInferenceRequest) (*content.ModelInferenceResponse, error)

// StreamableVariant is implemented by the variant kinds that resolve down
// to a single router call (ChatCompletion, DICL) and can therefore hand the
// coordinator a request to stream directly via router.RouteStream.
// BestOfN/MixtureOfN do not implement this — judging/fusing needs every
// candidate's complete output, so they have no meaningful streaming form.
type StreamableVariant interface {
	Variant
	PrepareStream(ctx context.Context, input content.ResolvedInput) (router.Model, *content.ModelInferenceRequest, error)
}

// Package router implements ordered per-model provider fallback: try each
// configured provider in turn and advance to the next on failure, surfacing
// ModelProvidersExhausted only once every provider has been tried.
package router

import (
	"context"
	"time"

	"go.uber.org/atomic"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/provider"
)

// Attempts counts every provider call Route/RouteStream has made across
// the process's lifetime, success or failure — one per fallback step, not
// one per request. internal/metrics polls this to publish a cumulative
// provider-attempts counter; a package-level atomic counter needs no Model-level
// plumbing since every Model shares the same router.
var Attempts atomic.Int64

// ProviderEntry binds a configured Provider to the wire model name the
// router should send it (a single logical Model may use a different
// underlying model id per provider, e.g. "claude-haiku-4-5" on a direct
// Anthropic key vs. a Bedrock inference profile id on Bedrock).
type ProviderEntry struct {
	Provider  provider.Provider
	ModelName string
}

// Model binds a name to an ordered provider fallback chain and a
// cross-provider timeout (spec.md 4.3).
type Model struct {
	Name      string
	Providers []ProviderEntry
	Timeout   time.Duration
}

// Route tries each provider in order, returning the first success. On
// failure it accumulates the error under that provider's name and tries
// the next. If every provider fails, it returns an
// apierror.ExhaustedProviders error carrying the full per-provider map.
//
// A provider call that fails with apierror.KindAPIKeyMissing still counts
// as a fallback candidate like any other failure — credentials.Resolve
// already delays "missing" errors until its own chain is exhausted, so by
// the time the error reaches here it is a genuine configuration gap, not a
// transient one worth special-casing.
func Route(ctx context.Context, m Model, req *content.ModelInferenceRequest) (*content.ModelInferenceResponse, error) {
	if len(m.Providers) == 0 {
		return nil, apierror.Newf(apierror.KindUnknownModel, "model %q has no configured providers", m.Name)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if m.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	errs := make(map[string]error, len(m.Providers))
	for _, entry := range m.Providers {
		providerReq := *req
		providerReq.ModelName = entry.ModelName

		Attempts.Inc()
		resp, err := entry.Provider.Infer(callCtx, &providerReq)
		if err != nil {
			errs[entry.Provider.Name()] = err
			continue
		}

		return &content.ModelInferenceResponse{
			ProviderInferenceResponse: *resp,
			ModelProviderName:         entry.Provider.Name(),
		}, nil
	}

	return nil, apierror.ExhaustedProviders(m.Name, errs)
}

// RouteStream is Route's streaming counterpart. It also tries providers in
// order, but a provider is only considered "failed" if InferStream itself
// returns an error (refused before any bytes) — once a stream has been
// opened and begins emitting chunks, the router commits to that provider
// and does not fail over mid-stream (spec.md 7: "streaming errors after
// the first successful chunk terminate the stream with an error event but
// preserve prior chunks").
func RouteStream(ctx context.Context, m Model, req *content.ModelInferenceRequest) (<-chan provider.StreamChunk, string, error) {
	if len(m.Providers) == 0 {
		return nil, "", apierror.Newf(apierror.KindUnknownModel, "model %q has no configured providers", m.Name)
	}

	errs := make(map[string]error, len(m.Providers))
	for _, entry := range m.Providers {
		providerReq := *req
		providerReq.ModelName = entry.ModelName
		providerReq.Stream = true

		Attempts.Inc()
		ch, err := entry.Provider.InferStream(ctx, &providerReq)
		if err != nil {
			errs[entry.Provider.Name()] = err
			continue
		}
		return ch, entry.Provider.Name(), nil
	}

	return nil, "", apierror.ExhaustedProviders(m.Name, errs)
}

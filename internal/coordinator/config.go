package coordinator

import (
	"encoding/json"

	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/router"
	"github.com/tzrouter/gateway/internal/routing"
	"github.com/tzrouter/gateway/internal/variant"
)

// CallOverrides is the per-call data a VariantFactory must fold into the
// variant tree it builds: request-level sampling param overrides, and a
// dynamic tool config/output schema if the request supplied one in place
// of the function's configured default.
type CallOverrides struct {
	Params       RequestParams
	ToolConfig   *content.ToolCallConfig
	OutputSchema json.RawMessage
}

// MergeOptions layers overrides on top of a variant's own configured base
// RequestOptions, request fields winning wherever they are non-nil
// (spec.md 4.2: request params override variant defaults). A VariantFactory
// calls this once per leaf variant it builds — including once per nested
// best-of-N/mixture-of-N candidate, since overrides apply uniformly across
// every candidate in the ensemble.
func MergeOptions(base variant.RequestOptions, ov CallOverrides) variant.RequestOptions {
	opts := ov.Params.merge(base)
	if ov.ToolConfig != nil {
		opts.ToolConfig = ov.ToolConfig
	}
	if ov.OutputSchema != nil {
		opts.OutputSchema = ov.OutputSchema
	}
	return opts
}

// VariantFactory builds a fresh Variant tree wired to route and overrides,
// including every nested candidate of a best-of-N/mixture-of-N variant.
// The coordinator needs a new tree per call: route closes over that call's
// cache mode and fingerprint base, and overrides carries that call's
// sampling/tool/schema settings — a Variant built once at config load time
// could never be made cache-aware or honor per-request overrides.
type VariantFactory func(route variant.RouteFunc, overrides CallOverrides) variant.Variant

// VariantDef is one configured variant of a function: how to build it and
// how it participates in variant selection.
type VariantDef struct {
	Factory VariantFactory

	// Weight is this variant's share of unpinned traffic. Zero means the
	// variant exists (and can still be requested by name) but is never
	// picked by weighted sampling (spec.md 4.8, "variants with weight 0
	// are excluded from sampling but remain selectable explicitly").
	Weight float64

	Retry variant.RetryConfig
}

// FunctionConfig is one configured function: its output shape, default
// tool/schema configuration, and the named variants that can serve it.
type FunctionConfig struct {
	Name         string
	Type         content.FunctionType
	Variants     map[string]VariantDef
	ToolConfig   *content.ToolCallConfig
	OutputSchema json.RawMessage

	// RoutingPolicy, when set, reweights Variants per call based on the
	// request's tags before the coordinator's weighted draw runs (spec.md
	// 4.3's C5 model router, extended — see internal/routing). nil means
	// the configured static weights are used unchanged.
	RoutingPolicy *routing.Policy
}

// ModelConfig is a model callable directly by name, bypassing a function
// entirely (spec.md 4.8, "a request may name a model instead of a
// function"). It behaves like a single unnamed chat-completion variant.
type ModelConfig struct {
	Model router.Model
}

package content

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RequestMessage is a message sent to a model: role plus ordered content
// blocks, after templating has rendered everything down to concrete
// blocks (no more TemplateArguments).
type RequestMessage struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// FunctionType is whether the calling function is a chat function or a
// JSON function.
type FunctionType string

const (
	FunctionChat FunctionType = "chat"
	FunctionJSON FunctionType = "json"
)

// JSONMode controls how strongly a JSON function should coerce the model
// into emitting parseable JSON.
type JSONMode string

const (
	JSONModeOff    JSONMode = "off"
	JSONModeOn     JSONMode = "on"
	JSONModeStrict JSONMode = "strict"
)

// ExtraBody is one {pointer, value} override to merge into a provider's
// serialized wire body, keyed by JSON-pointer-ish dotted path (see
// internal/provider/extrabody.go for the merge implementation using
// tidwall/sjson).
type ExtraBody struct {
	Pointer string          `json:"pointer"`
	Value   json.RawMessage `json:"value"`
}

// ExtraHeader is one header override applied to the outgoing provider
// HTTP request.
type ExtraHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ModelInferenceRequest is the provider-independent, serializable call
// descriptor every adapter translates from (spec.md section 3).
type ModelInferenceRequest struct {
	ID       uuid.UUID
	// ModelName is the wire model identifier to send to the provider
	// (e.g. "claude-opus-4-6-20260115"), bound by the router when it
	// picks this provider for the request's configured model.
	ModelName        string
	Messages         []RequestMessage
	System           *string
	ToolConfig       *ToolCallConfig
	Temperature      *float32
	TopP             *float32
	MaxTokens        *int
	PresencePenalty  *float32
	FrequencyPenalty *float32
	Seed             *int
	Stream           bool
	JSONMode         JSONMode
	FunctionType     FunctionType
	OutputSchema     json.RawMessage

	// ExtraBody/ExtraHeaders are overrides that provider adapters apply
	// last, right before serializing the wire request. They are copied
	// from variant.RequestOptions; no code in this module fills them from
	// the request's extra_body or from provider or variant config, and no
	// precedence between those sources is applied.
	ExtraBody    []ExtraBody
	ExtraHeaders []ExtraHeader

	// ExtraCacheKey is folded into the cache fingerprint only; it has no
	// effect on the actual provider call. No variant kind in this module
	// sets it, so best_of_n/mixture_of_n candidates that build identical
	// requests share one cache entry.
	ExtraCacheKey string
}

// ToolChoice mirrors the four modes spec.md 4.5 defines.
type ToolChoice struct {
	Mode     ToolChoiceMode
	Specific string // populated only when Mode == ToolChoiceSpecific
}

type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceSpecific ToolChoiceMode = "specific"
	ToolChoiceNone     ToolChoiceMode = "none"
)

// ToolDefinition is one callable tool's name, description, and argument
// schema.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ToolCallConfig is the tool configuration attached to a
// ModelInferenceRequest (spec.md 4.5).
type ToolCallConfig struct {
	Tools             []ToolDefinition
	ToolChoice         ToolChoice
	ParallelToolCalls bool
}

// ByName finds a configured tool by name, or reports ok=false.
func (tc *ToolCallConfig) ByName(name string) (ToolDefinition, bool) {
	if tc == nil {
		return ToolDefinition{}, false
	}
	for _, t := range tc.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}

// Usage holds normalized input/output token counts.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add saturating-adds another Usage's counts into this one (C6 rule 4).
func (u *Usage) Add(other Usage) {
	u.InputTokens = saturatingAdd(u.InputTokens, other.InputTokens)
	u.OutputTokens = saturatingAdd(u.OutputTokens, other.OutputTokens)
}

func saturatingAdd(a, b int) int {
	sum := a + b
	if sum < a { // overflow wrapped around
		return int(^uint(0) >> 1) // max int
	}
	return sum
}

// Latency is a discriminated union matching the original's three latency
// shapes (restored per SPEC_FULL.md section 3): streaming calls carry a
// distinct time-to-first-token, non-streaming calls carry only a total
// response time, and batch calls carry neither.
type Latency struct {
	Kind         LatencyKind
	TTFT         time.Duration
	ResponseTime time.Duration
}

type LatencyKind string

const (
	LatencyStreaming    LatencyKind = "streaming"
	LatencyNonStreaming LatencyKind = "non_streaming"
	LatencyBatch        LatencyKind = "batch"
)

// ProviderInferenceResponse is the normalized result of one provider call
// (spec.md section 3).
type ProviderInferenceResponse struct {
	ID            uuid.UUID
	Created       int64
	Output        []OutputBlock
	System        *string
	InputMessages []RequestMessage
	RawRequest    string
	RawResponse   string
	Usage         Usage
	Latency       Latency
	FinishReason  *FinishReason
}

// ModelInferenceResponse adds provider/model identity and cache status on
// top of ProviderInferenceResponse (spec.md 4.8 data flow).
type ModelInferenceResponse struct {
	ProviderInferenceResponse
	ModelProviderName string
	Cached            bool
}

// ModelInferenceResponseWithMetadata additionally carries the model name,
// for the chain of per-call records an InferenceResult keeps (spec.md
// section 3: "Carries the chain of ModelInferenceResponseWithMetadata").
type ModelInferenceResponseWithMetadata struct {
	ModelInferenceResponse
	ModelName string
}

// ActualUsage returns the usage the caller should be billed: zero when the
// response was served from cache, the real usage otherwise (I4 / restored
// from original_source per SPEC_FULL.md section 3).
func (m ModelInferenceResponseWithMetadata) ActualUsage() Usage {
	if m.Cached {
		return Usage{}
	}
	return m.Usage
}

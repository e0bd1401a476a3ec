// Package content defines the typed content-block union that flows through
// the gateway: client input, provider-independent request messages, and
// provider output. Every LLM backend adapter translates to and from these
// types, so the rest of the gateway never has to know which provider it is
// talking to.
package content

import "encoding/json"

// Role is who is speaking in a message. Go doesn't have sum types for
// strings, so we just constrain the values by convention and validate at
// the boundary (JSON decode).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FinishReason is why a model stopped generating. Closed set, matching the
// upstream TensorZero implementation rather than passing provider strings
// straight through — every adapter normalizes into one of these.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCall      FinishReason = "tool_call"
	FinishContentFilter FinishReason = "content_filter"
	FinishUnknown       FinishReason = "unknown"
)

// Block is the input-side content-block union (I1, I2). Exactly one of the
// typed fields is populated, selected by Type. We use a discriminated
// struct instead of an interface hierarchy so encoding/json can decode
// straight into it without a custom UnmarshalJSON per concrete type; only
// the union wrapper itself needs custom (de)serialization.
type Block struct {
	Type BlockType

	Text              *TextBlock
	TemplateArguments *TemplateArgumentsBlock
	RawText           *RawTextBlock
	ToolCall          *ToolCallBlock
	ToolResult        *ToolResultBlock
	File              *FileBlock
	Thought           *ThoughtBlock
	Unknown           *UnknownBlock
}

// BlockType discriminates the Block union.
type BlockType string

const (
	BlockTypeText              BlockType = "text"
	BlockTypeTemplateArguments BlockType = "template_arguments"
	BlockTypeRawText           BlockType = "raw_text"
	BlockTypeToolCall          BlockType = "tool_call"
	BlockTypeToolResult        BlockType = "tool_result"
	BlockTypeFile              BlockType = "file"
	BlockTypeThought           BlockType = "thought"
	BlockTypeUnknown           BlockType = "unknown"
)

// TextBlock is a plain string turn.
type TextBlock struct {
	Text string `json:"text"`
}

// TemplateArgumentsBlock names a role-specific prompt template and the
// arguments it should be rendered with. Template rendering itself is out
// of scope for this module (external collaborator); the gateway only
// carries the name + arguments through to whichever component does the
// rendering.
type TemplateArgumentsBlock struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// RawTextBlock is an already-rendered string that bypasses templating.
type RawTextBlock struct {
	Value string `json:"value"`
}

// ToolCallBlock is a structured function invocation emitted by the model
// (on the output side) or replayed back in (on the input side, e.g. when a
// client resubmits assistant history that included a tool call).
type ToolCallBlock struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON text; see toolschema for validated form
}

// ToolResultBlock is the client's answer to a prior ToolCallBlock.
type ToolResultBlock struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

// FileSource discriminates how a File block's bytes are supplied.
type FileSource string

const (
	FileSourceURL    FileSource = "url"
	FileSourceBase64 FileSource = "base64"
)

// FileBlock is a binary input (image, PDF, audio) supplied either by URL or
// inline base64. Resolve() turns this into a ResolvedFile with bytes and a
// storage path — see resolve.go.
type FileBlock struct {
	Source   FileSource `json:"source"`
	URL      string     `json:"url,omitempty"`
	Base64   string     `json:"base64,omitempty"`
	MIMEType string     `json:"mime_type,omitempty"`
	Detail   string     `json:"detail,omitempty"`
	Filename string     `json:"filename,omitempty"`
}

// ThoughtBlock is a reasoning content block (I1). A Thought with a
// Signature but no Text is a provider-opaque reasoning token that must be
// round-tripped verbatim back to that same provider.
type ThoughtBlock struct {
	Text         string `json:"text,omitempty"`
	Signature    string `json:"signature,omitempty"`
	Summary      string `json:"summary,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`
}

// UnknownBlock carries a provider-specific content block TensorZero's type
// system doesn't model, e.g. Anthropic's redacted_thinking. ModelScope, when
// non-empty, is a fully-qualified scope of the form
// "tensorzero::model_name::<model>::provider_name::<provider>" (I2): the
// block must only be shown to that exact model+provider pair and stripped
// from every other call.
type UnknownBlock struct {
	Data       json.RawMessage `json:"data"`
	ModelScope string          `json:"model_provider_name,omitempty"`
}

// FullyQualifiedScope builds the scope string UnknownBlock.ModelScope is
// compared against.
func FullyQualifiedScope(modelName, providerName string) string {
	return "tensorzero::model_name::" + modelName + "::provider_name::" + providerName
}

// Matches reports whether this Unknown block should be shown to the given
// model+provider pair (I2). An empty ModelScope matches everything.
func (u UnknownBlock) Matches(modelName, providerName string) bool {
	if u.ModelScope == "" {
		return true
	}
	return u.ModelScope == FullyQualifiedScope(modelName, providerName)
}

// Message is one turn of the conversation: a role plus an ordered sequence
// of content blocks.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// System is the wire-level "system" field: either a plain string or
// template arguments for a schema-bound system template.
type System struct {
	Text      string
	Arguments map[string]any
	IsText    bool
}

// OutputBlockType narrows Block's union to what a provider adapter can
// actually return (ProviderInferenceResponse.Output in spec.md 4.2): Text,
// ToolCall, Thought, Unknown. No TemplateArguments/RawText/File/ToolResult
// on the output side.
type OutputBlock struct {
	Type     BlockType
	Text     *TextBlock
	ToolCall *ToolCallBlock
	Thought  *ThoughtBlock
	Unknown  *UnknownBlock
}

// ChatOutputBlock is OutputBlock after tool-call validation (C7): ToolCall
// becomes a ValidatedToolCall carrying both the raw and the
// parsed/validated forms.
type ChatOutputBlock struct {
	Type     BlockType
	Text     *TextBlock
	ToolCall *ValidatedToolCall
	Thought  *ThoughtBlock
	Unknown  *UnknownBlock
}

// ValidatedToolCall is a tool call after C7 validation. RawName/RawArguments
// are always preserved; Name/Arguments are populated only when the raw
// name resolves against the configured tools and the raw arguments parse
// and validate against that tool's schema.
type ValidatedToolCall struct {
	ID            string
	RawName       string
	RawArguments  string
	Name          *string
	Arguments     json.RawMessage
}

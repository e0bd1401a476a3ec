package variant

import (
	"context"
	"fmt"

	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/router"
)

// TemplateRenderer renders a named per-role template against arguments.
// Template rendering itself is out of scope for this module (spec.md 1,
// "external collaborator"); the variant only needs this narrow seam.
type TemplateRenderer interface {
	Render(templateName string, arguments map[string]any) (string, error)
}

// ChatCompletionVariant builds one ModelInferenceRequest from a resolved
// input — applying per-role templates when configured — and delegates to
// the router (spec.md 4.6).
type ChatCompletionVariant struct {
	VariantName string
	Model       router.Model
	Options     RequestOptions

	// SystemTemplate/UserTemplate/AssistantTemplate name the schema-bound
	// or legacy free-text template to apply per role; empty means no
	// templating for that role (blocks are passed through as-is).
	SystemTemplate    string
	UserTemplate      string
	AssistantTemplate string
	Renderer          TemplateRenderer

	Route RouteFunc
}

func (v *ChatCompletionVariant) Name() string { return v.VariantName }

func (v *ChatCompletionVariant) Execute(ctx context.Context, input content.ResolvedInput) (content.InferenceResult, error) {
	req, err := v.BuildRequest(input)
	if err != nil {
		return content.InferenceResult{}, err
	}

	resp, err := v.Route(ctx, v.Model, req)
	if err != nil {
		return content.InferenceResult{}, err
	}

	meta := modelResponseFromRoute(v.Model.Name, v.VariantName, resp)
	return assembleResult(v.VariantName, v.Options.FunctionType, resp.Output, []content.ModelInferenceResponseWithMetadata{meta}), nil
}

// BuildRequest renders templates and assembles the ModelInferenceRequest
// this variant would send, without dispatching it. The coordinator's
// streaming path calls this directly (bypassing Execute/Route) since a
// streaming call needs the raw chunk channel from router.RouteStream
// rather than the folded InferenceResult Execute returns.
func (v *ChatCompletionVariant) BuildRequest(input content.ResolvedInput) (*content.ModelInferenceRequest, error) {
	messages, err := v.renderMessages(input)
	if err != nil {
		return nil, err
	}

	system, err := v.renderSystem(input)
	if err != nil {
		return nil, err
	}

	return buildRequest(messages, system, v.Options), nil
}

// PrepareStream satisfies StreamableVariant: the same request BuildRequest
// produces, paired with the model it targets.
func (v *ChatCompletionVariant) PrepareStream(ctx context.Context, input content.ResolvedInput) (router.Model, *content.ModelInferenceRequest, error) {
	req, err := v.BuildRequest(input)
	if err != nil {
		return router.Model{}, nil, err
	}
	return v.Model, req, nil
}

func (v *ChatCompletionVariant) renderSystem(input content.ResolvedInput) (*string, error) {
	if input.System == nil {
		return nil, nil
	}
	if input.System.IsText || v.SystemTemplate == "" {
		s := input.System.Text
		return &s, nil
	}
	rendered, err := v.Renderer.Render(v.SystemTemplate, input.System.Arguments)
	if err != nil {
		return nil, fmt.Errorf("variant: rendering system template %q: %w", v.SystemTemplate, err)
	}
	return &rendered, nil
}

func (v *ChatCompletionVariant) renderMessages(input content.ResolvedInput) ([]content.RequestMessage, error) {
	out := make([]content.RequestMessage, 0, len(input.Messages))
	for _, msg := range input.Messages {
		blocks, err := v.renderBlocks(msg.Role, msg.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, content.RequestMessage{Role: msg.Role, Content: blocks})
	}
	return out, nil
}

func (v *ChatCompletionVariant) renderBlocks(role content.Role, blocks []content.ResolvedBlock) ([]content.Block, error) {
	templateName := v.UserTemplate
	if role == content.RoleAssistant {
		templateName = v.AssistantTemplate
	}

	out := make([]content.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Block.Type == content.BlockTypeTemplateArguments && templateName != "" {
			rendered, err := v.Renderer.Render(templateName, b.Block.TemplateArguments.Arguments)
			if err != nil {
				return nil, fmt.Errorf("variant: rendering %q template %q: %w", role, templateName, err)
			}
			out = append(out, content.Block{Type: content.BlockTypeRawText, RawText: &content.RawTextBlock{Value: rendered}})
			continue
		}
		out = append(out, b.Block)
	}
	return out, nil
}

// assembleResult builds the chat or JSON InferenceResult shape from raw
// output blocks. Tool-call/JSON-schema validation (C7) happens one layer
// up, in the coordinator, once the variant has finished — variants only
// need to tag which shape the function expects.
func assembleResult(variantName string, ft content.FunctionType, output []content.OutputBlock, responses []content.ModelInferenceResponseWithMetadata) content.InferenceResult {
	if ft == content.FunctionJSON {
		var raw string
		for _, b := range output {
			if b.Type == content.BlockTypeText {
				raw += b.Text.Text
			}
		}
		return content.InferenceResult{
			Kind:           content.InferenceResultJSON,
			JSON:           &content.JSONResult{Raw: raw},
			ModelResponses: responses,
			VariantName:    variantName,
		}
	}

	chat := make([]content.ChatOutputBlock, 0, len(output))
	for _, b := range output {
		cb := content.ChatOutputBlock{Type: b.Type, Text: b.Text, Thought: b.Thought, Unknown: b.Unknown}
		if b.Type == content.BlockTypeToolCall {
			cb.ToolCall = &content.ValidatedToolCall{ID: b.ToolCall.ID, RawName: b.ToolCall.Name, RawArguments: b.ToolCall.Arguments}
		}
		chat = append(chat, cb)
	}
	return content.InferenceResult{
		Kind:           content.InferenceResultChat,
		Chat:           chat,
		ModelResponses: responses,
		VariantName:    variantName,
	}
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/content"
)

// OpenAIProvider implements Provider using the official openai-go SDK
// instead of hand-rolled HTTP, unlike the Anthropic/Google adapters, because
// the SDK already owns request signing, retries-on-connection-error, and
// the streaming accumulator for tool-call argument fragments.
type OpenAIProvider struct {
	name   string
	client openai.Client
}

// NewOpenAIProvider creates an OpenAIProvider. baseURL is optional; pass ""
// to use the SDK's default (api.openai.com), or a compatible endpoint
// (Azure OpenAI, a local proxy) otherwise.
func NewOpenAIProvider(name, apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{name: name, client: openai.NewClient(opts...)}
}

func (o *OpenAIProvider) Name() string { return o.name }

func toOpenAIMessages(req *content.ModelInferenceRequest) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if req.System != nil && *req.System != "" {
		out = append(out, openai.SystemMessage(*req.System))
	}
	for _, msg := range req.Messages {
		out = append(out, toOpenAIMessage(msg)...)
	}
	return out
}

func toOpenAIMessage(msg content.RequestMessage) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion

	if msg.Role == content.RoleUser {
		for _, b := range msg.Content {
			switch b.Type {
			case content.BlockTypeText:
				out = append(out, openai.UserMessage(b.Text.Text))
			case content.BlockTypeRawText:
				out = append(out, openai.UserMessage(b.RawText.Value))
			case content.BlockTypeToolResult:
				out = append(out, openai.ToolMessage(b.ToolResult.Result, b.ToolResult.ID))
			}
		}
		return out
	}

	// Assistant turn: collect text + tool calls into one assistant message.
	var text string
	var calls []openai.ChatCompletionMessageToolCallUnionParam
	for _, b := range msg.Content {
		switch b.Type {
		case content.BlockTypeText:
			text += b.Text.Text
		case content.BlockTypeRawText:
			text += b.RawText.Value
		case content.BlockTypeToolCall:
			calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: b.ToolCall.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      b.ToolCall.Name,
						Arguments: b.ToolCall.Arguments,
					},
				},
			})
		}
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(text),
		}
	}
	out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
	return out
}

func toOpenAITools(tc *content.ToolCallConfig) ([]openai.ChatCompletionToolUnionParam, openai.ChatCompletionToolChoiceOptionUnionParam) {
	if tc == nil || len(tc.Tools) == 0 {
		return nil, openai.ChatCompletionToolChoiceOptionUnionParam{}
	}
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(tc.Tools))
	for _, t := range tc.Tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Schema, &schema)
		tools = append(tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  schema,
				},
			},
		})
	}

	var choice openai.ChatCompletionToolChoiceOptionUnionParam
	switch tc.ToolChoice.Mode {
	case content.ToolChoiceRequired:
		choice.OfAuto = param.NewOpt("required")
	case content.ToolChoiceNone:
		choice.OfAuto = param.NewOpt("none")
	case content.ToolChoiceSpecific:
		choice.OfChatCompletionNamedToolChoice = &openai.ChatCompletionNamedToolChoiceParam{
			Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.ToolChoice.Specific},
		}
	default:
		choice.OfAuto = param.NewOpt("auto")
	}
	return tools, choice
}

func toOpenAIParams(req *content.ModelInferenceRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    req.ModelName,
		Messages: toOpenAIMessages(req),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = openai.Float(float64(*req.TopP))
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(float64(*req.PresencePenalty))
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(float64(*req.FrequencyPenalty))
	}
	if req.Seed != nil {
		params.Seed = openai.Int(int64(*req.Seed))
	}
	if req.JSONMode == content.JSONModeOn || req.JSONMode == content.JSONModeStrict {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if tools, choice := toOpenAITools(req.ToolConfig); len(tools) > 0 {
		params.Tools = tools
		params.ToolChoice = choice
	}
	return params
}

func fromOpenAIToolCalls(calls []openai.ChatCompletionMessageToolCallUnion) []content.OutputBlock {
	var out []content.OutputBlock
	for _, tc := range calls {
		out = append(out, content.OutputBlock{
			Type: content.BlockTypeToolCall,
			ToolCall: &content.ToolCallBlock{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func openAIFinishReason(reason string) content.FinishReason {
	switch reason {
	case "stop":
		return content.FinishStop
	case "length":
		return content.FinishLength
	case "tool_calls":
		return content.FinishToolCall
	case "content_filter":
		return content.FinishContentFilter
	default:
		return content.FinishUnknown
	}
}

func (o *OpenAIProvider) Infer(ctx context.Context, req *content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	start := time.Now()
	params := toOpenAIParams(req)

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, apierror.New(apierror.KindNoStreamContent, "openai: no choices returned")
	}

	choice := completion.Choices[0]
	var output []content.OutputBlock
	if choice.Message.Content != "" {
		output = append(output, content.OutputBlock{Type: content.BlockTypeText, Text: &content.TextBlock{Text: choice.Message.Content}})
	}
	output = append(output, fromOpenAIToolCalls(choice.Message.ToolCalls)...)

	finish := openAIFinishReason(choice.FinishReason)
	rawResponse, _ := json.Marshal(completion)

	return &content.ProviderInferenceResponse{
		Output:      output,
		RawResponse: string(rawResponse),
		Usage: content.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
		Latency:      content.Latency{Kind: content.LatencyNonStreaming, ResponseTime: time.Since(start)},
		FinishReason: &finish,
	}, nil
}

func (o *OpenAIProvider) InferStream(ctx context.Context, req *content.ModelInferenceRequest) (<-chan StreamChunk, error) {
	params := toOpenAIParams(req)
	// OpenAI only emits the terminal usage chunk when explicitly asked;
	// without this, acc.Usage below stays zero for every stream.
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := o.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		acc := openai.ChatCompletionAccumulator{}

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			var blocks []content.OutputBlock
			if delta.Content != "" {
				blocks = append(blocks, content.OutputBlock{Type: content.BlockTypeText, Text: &content.TextBlock{Text: delta.Content}})
			}
			for _, tc := range delta.ToolCalls {
				blocks = append(blocks, content.OutputBlock{
					Type: content.BlockTypeToolCall,
					ToolCall: &content.ToolCallBlock{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}

			var finish *content.FinishReason
			if chunk.Choices[0].FinishReason != "" {
				fr := openAIFinishReason(chunk.Choices[0].FinishReason)
				finish = &fr
			}

			if len(blocks) > 0 || finish != nil {
				if !sendOrAbort(ctx, ch, StreamChunk{Blocks: blocks, FinishReason: finish}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			sendOrAbort(ctx, ch, StreamChunk{Done: true, Error: classifyOpenAIError(err)})
			return
		}

		usage := content.Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		}
		sendOrAbort(ctx, ch, StreamChunk{Done: true, Usage: &usage})
	}()

	return ch, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && ClassifyStatus(apiErr.StatusCode) == ClassifyClient {
		return apierror.Wrap(apierror.KindInferenceClient, err, "openai chat completion")
	}
	return apierror.Wrap(apierror.KindInferenceServer, err, "openai chat completion")
}

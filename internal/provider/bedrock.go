package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/content"
)

// bedrockRuntime is the subset of *bedrockruntime.Client the adapter needs,
// letting tests substitute a fake.
type bedrockRuntime interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider implements Provider on top of AWS Bedrock's Converse API.
// SigV4 request signing makes hand-rolling the wire protocol impractical, so
// unlike Anthropic/Google this adapter calls the official SDK directly
// instead of building raw HTTP requests.
type BedrockProvider struct {
	name    string
	runtime bedrockRuntime
}

// NewBedrockProvider creates a BedrockProvider. runtime is typically a
// *bedrockruntime.Client built from an aws.Config resolved via
// config.LoadDefaultConfig.
func NewBedrockProvider(name string, runtime bedrockRuntime) *BedrockProvider {
	return &BedrockProvider{name: name, runtime: runtime}
}

func (b *BedrockProvider) Name() string { return b.name }

func toBedrockMessages(req *content.ModelInferenceRequest) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var system []brtypes.SystemContentBlock
	if req.System != nil && *req.System != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: *req.System})
	}

	var messages []brtypes.Message
	for _, msg := range req.Messages {
		role := brtypes.ConversationRoleUser
		if msg.Role == content.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		var blocks []brtypes.ContentBlock
		for _, block := range msg.Content {
			bb, err := toBedrockBlock(block)
			if err != nil {
				return nil, nil, err
			}
			if bb != nil {
				blocks = append(blocks, bb)
			}
		}
		if len(blocks) > 0 {
			messages = append(messages, brtypes.Message{Role: role, Content: blocks})
		}
	}
	return messages, system, nil
}

func toBedrockBlock(b content.Block) (brtypes.ContentBlock, error) {
	switch b.Type {
	case content.BlockTypeText:
		return &brtypes.ContentBlockMemberText{Value: b.Text.Text}, nil
	case content.BlockTypeRawText:
		return &brtypes.ContentBlockMemberText{Value: b.RawText.Value}, nil
	case content.BlockTypeToolCall:
		var args document.Interface
		if b.ToolCall.Arguments != "" {
			args = document.NewLazyDocument(json.RawMessage(b.ToolCall.Arguments))
		}
		return &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
			ToolUseId: aws.String(b.ToolCall.ID),
			Name:      aws.String(b.ToolCall.Name),
			Input:     args,
		}}, nil
	case content.BlockTypeToolResult:
		return &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
			ToolUseId: aws.String(b.ToolResult.ID),
			Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: b.ToolResult.Result}},
		}}, nil
	case content.BlockTypeThought:
		// Bedrock's Converse API doesn't expose interleaved-thinking content
		// blocks the way Anthropic's native API does; a Thought without a
		// home on this transport is dropped rather than erroring, matching
		// Converse's reasoningContent being consumed server-side.
		return nil, nil
	default:
		return nil, nil
	}
}

func toBedrockToolConfig(tc *content.ToolCallConfig) (*brtypes.ToolConfiguration, error) {
	if tc == nil || len(tc.Tools) == 0 {
		return nil, nil
	}
	var tools []brtypes.Tool
	for _, t := range tc.Tools {
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpec{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(json.RawMessage(t.Schema))},
		}})
	}
	cfg := &brtypes.ToolConfiguration{Tools: tools}
	switch tc.ToolChoice.Mode {
	case content.ToolChoiceRequired:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{}
	case content.ToolChoiceSpecific:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(tc.ToolChoice.Specific)}}
	default:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAuto{}
	}
	return cfg, nil
}

func fromBedrockBlock(cb brtypes.ContentBlock) content.OutputBlock {
	switch v := cb.(type) {
	case *brtypes.ContentBlockMemberText:
		return content.OutputBlock{Type: content.BlockTypeText, Text: &content.TextBlock{Text: v.Value}}
	case *brtypes.ContentBlockMemberToolUse:
		var args []byte
		if v.Value.Input != nil {
			args, _ = v.Value.Input.MarshalSmithyDocument()
		}
		return content.OutputBlock{Type: content.BlockTypeToolCall, ToolCall: &content.ToolCallBlock{
			ID:        aws.ToString(v.Value.ToolUseId),
			Name:      aws.ToString(v.Value.Name),
			Arguments: string(args),
		}}
	default:
		return content.OutputBlock{Type: content.BlockTypeUnknown, Unknown: &content.UnknownBlock{Data: json.RawMessage(`{}`)}}
	}
}

func bedrockFinishReason(stop brtypes.StopReason) content.FinishReason {
	switch stop {
	case brtypes.StopReasonEndTurn, brtypes.StopReasonStopSequence:
		return content.FinishStop
	case brtypes.StopReasonMaxTokens:
		return content.FinishLength
	case brtypes.StopReasonToolUse:
		return content.FinishToolCall
	case brtypes.StopReasonContentFiltered, brtypes.StopReasonGuardrailIntervened:
		return content.FinishContentFilter
	default:
		return content.FinishUnknown
	}
}

func (b *BedrockProvider) Infer(ctx context.Context, req *content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	start := time.Now()

	messages, system, err := toBedrockMessages(req)
	if err != nil {
		return nil, err
	}
	toolConfig, err := toBedrockToolConfig(req.ToolConfig)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:    aws.String(req.ModelName),
		Messages:   messages,
		System:     system,
		ToolConfig: toolConfig,
	}
	if req.MaxTokens != nil || req.Temperature != nil || req.TopP != nil {
		ic := &brtypes.InferenceConfiguration{}
		if req.MaxTokens != nil {
			ic.MaxTokens = aws.Int32(int32(*req.MaxTokens))
		}
		if req.Temperature != nil {
			ic.Temperature = aws.Float32(*req.Temperature)
		}
		if req.TopP != nil {
			ic.TopP = aws.Float32(*req.TopP)
		}
		input.InferenceConfig = ic
	}

	out, err := b.runtime.Converse(ctx, input)
	if err != nil {
		return nil, classifyBedrockError(err)
	}

	var output []content.OutputBlock
	var finish content.FinishReason
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			output = append(output, fromBedrockBlock(block))
		}
	}
	finish = bedrockFinishReason(out.StopReason)

	usage := content.Usage{}
	if out.Usage != nil {
		usage = content.Usage{InputTokens: int(aws.ToInt32(out.Usage.InputTokens)), OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens))}
	}

	rawRequest, _ := json.Marshal(req.ModelName)

	return &content.ProviderInferenceResponse{
		ID:           uuid.New(),
		Created:      time.Now().Unix(),
		Output:       output,
		RawRequest:   string(rawRequest),
		Usage:        usage,
		Latency:      content.Latency{Kind: content.LatencyNonStreaming, ResponseTime: time.Since(start)},
		FinishReason: &finish,
	}, nil
}

func (b *BedrockProvider) InferStream(ctx context.Context, req *content.ModelInferenceRequest) (<-chan StreamChunk, error) {
	messages, system, err := toBedrockMessages(req)
	if err != nil {
		return nil, err
	}
	toolConfig, err := toBedrockToolConfig(req.ToolConfig)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:    aws.String(req.ModelName),
		Messages:   messages,
		System:     system,
		ToolConfig: toolConfig,
	}

	out, err := b.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, classifyBedrockError(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, apierror.New(apierror.KindInferenceServer, "bedrock: stream output missing event stream")
	}

	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		defer stream.Close()

		var currentToolID, currentToolName string
		var argsBuf []byte

		for event := range stream.Events() {
			switch v := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					currentToolID = aws.ToString(start.Value.ToolUseId)
					currentToolName = aws.ToString(start.Value.Name)
					argsBuf = argsBuf[:0]
				}

			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				switch d := v.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					if !sendOrAbort(ctx, ch, StreamChunk{Blocks: []content.OutputBlock{{
						Type: content.BlockTypeText, Text: &content.TextBlock{Text: d.Value},
					}}}) {
						return
					}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					argsBuf = append(argsBuf, aws.ToString(d.Value.Input)...)
					if !sendOrAbort(ctx, ch, StreamChunk{Blocks: []content.OutputBlock{{
						Type: content.BlockTypeToolCall, ToolCall: &content.ToolCallBlock{
							ID: currentToolID, Name: currentToolName, Arguments: aws.ToString(d.Value.Input),
						},
					}}}) {
						return
					}
				}

			case *brtypes.ConverseStreamOutputMemberMessageStop:
				finish := bedrockFinishReason(v.Value.StopReason)
				if !sendOrAbort(ctx, ch, StreamChunk{FinishReason: &finish}) {
					return
				}

			case *brtypes.ConverseStreamOutputMemberMetadata:
				var usage content.Usage
				if v.Value.Usage != nil {
					usage = content.Usage{
						InputTokens:  int(aws.ToInt32(v.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
					}
				}
				sendOrAbort(ctx, ch, StreamChunk{Done: true, Usage: &usage})
				return
			}
		}

		if err := stream.Err(); err != nil {
			sendOrAbort(ctx, ch, StreamChunk{Done: true, Error: classifyBedrockError(err)})
		}
	}()

	return ch, nil
}

func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException", "ModelTimeoutException", "InternalServerException":
			return apierror.Wrap(apierror.KindInferenceServer, err, "bedrock converse")
		default:
			return apierror.Wrap(apierror.KindInferenceClient, err, "bedrock converse")
		}
	}
	return apierror.Wrap(apierror.KindInferenceServer, err, fmt.Sprintf("bedrock converse: %v", err))
}

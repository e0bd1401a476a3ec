package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/content"
)

// anthropicAPIVersion pins Anthropic's date-based API version header,
// required on every request.
const anthropicAPIVersion = "2023-06-01"

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider implements Provider for Anthropic's Messages API.
type AnthropicProvider struct {
	name    string // the configured provider name, e.g. "anthropic-primary"
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropicProvider creates an AnthropicProvider ready to make API calls.
// name is the provider's configured identity (distinct from "anthropic",
// the backend kind) so a model can list several Anthropic providers with
// different keys/base URLs in its fallback chain.
func NewAnthropicProvider(name, apiKey, baseURL string, client *http.Client) *AnthropicProvider {
	return &AnthropicProvider{name: name, apiKey: apiKey, baseURL: baseURL, client: client}
}

func (a *AnthropicProvider) Name() string { return a.name }

// --- wire types -------------------------------------------------------

type anthropicRequest struct {
	Model      string               `json:"model"`
	MaxTokens  int                  `json:"max_tokens"`
	System     string               `json:"system,omitempty"`
	Messages   []anthropicMessage   `json:"messages"`
	Tools      []anthropicTool      `json:"tools,omitempty"`
	ToolChoice *anthropicToolChoice `json:"tool_choice,omitempty"`
	Stream     bool                 `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	Message      *anthropicEventMessage `json:"message,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicEventDelta   `json:"delta,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
}

type anthropicEventMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicEventDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Signature   string `json:"signature,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// --- request translation ----------------------------------------------

func toAnthropicRequest(req *content.ModelInferenceRequest) (*anthropicRequest, error) {
	ar := &anthropicRequest{Model: req.ModelName, MaxTokens: anthropicDefaultMaxTokens}
	if req.System != nil {
		ar.System = *req.System
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		ar.MaxTokens = *req.MaxTokens
	}

	for _, msg := range req.Messages {
		am := anthropicMessage{Role: string(msg.Role)}
		for _, block := range msg.Content {
			ab, err := toAnthropicBlock(block)
			if err != nil {
				return nil, err
			}
			if ab != nil {
				am.Content = append(am.Content, *ab)
			}
		}
		ar.Messages = append(ar.Messages, am)
	}

	if req.ToolConfig != nil {
		for _, tool := range req.ToolConfig.Tools {
			ar.Tools = append(ar.Tools, anthropicTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.Schema,
			})
		}
		switch req.ToolConfig.ToolChoice.Mode {
		case content.ToolChoiceRequired:
			ar.ToolChoice = &anthropicToolChoice{Type: "any"}
		case content.ToolChoiceSpecific:
			ar.ToolChoice = &anthropicToolChoice{Type: "tool", Name: req.ToolConfig.ToolChoice.Specific}
		case content.ToolChoiceNone:
			ar.ToolChoice = &anthropicToolChoice{Type: "none"}
		default:
			ar.ToolChoice = &anthropicToolChoice{Type: "auto"}
		}
	}

	return ar, nil
}

func toAnthropicBlock(b content.Block) (*anthropicContentBlock, error) {
	switch b.Type {
	case content.BlockTypeText:
		return &anthropicContentBlock{Type: "text", Text: b.Text.Text}, nil
	case content.BlockTypeRawText:
		return &anthropicContentBlock{Type: "text", Text: b.RawText.Value}, nil
	case content.BlockTypeToolCall:
		return &anthropicContentBlock{
			Type:  "tool_use",
			ID:    b.ToolCall.ID,
			Name:  b.ToolCall.Name,
			Input: json.RawMessage(b.ToolCall.Arguments),
		}, nil
	case content.BlockTypeToolResult:
		return &anthropicContentBlock{Type: "tool_result", ToolUseID: b.ToolResult.ID, Content: b.ToolResult.Result}, nil
	case content.BlockTypeThought:
		if b.Thought.Signature != "" {
			return &anthropicContentBlock{Type: "thinking", Thinking: b.Thought.Text, Signature: b.Thought.Signature}, nil
		}
		return nil, nil
	case content.BlockTypeUnknown:
		if !b.Unknown.Matches("", "anthropic") {
			return nil, nil
		}
		var raw anthropicContentBlock
		if err := json.Unmarshal(b.Unknown.Data, &raw); err != nil {
			return nil, fmt.Errorf("anthropic: decoding unknown block: %w", err)
		}
		return &raw, nil
	default:
		return nil, nil
	}
}

func fromAnthropicOutputBlock(ab anthropicContentBlock) content.OutputBlock {
	switch ab.Type {
	case "text":
		return content.OutputBlock{Type: content.BlockTypeText, Text: &content.TextBlock{Text: ab.Text}}
	case "tool_use":
		return content.OutputBlock{Type: content.BlockTypeToolCall, ToolCall: &content.ToolCallBlock{
			ID: ab.ID, Name: ab.Name, Arguments: string(ab.Input),
		}}
	case "thinking":
		return content.OutputBlock{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{
			Text: ab.Thinking, Signature: ab.Signature, ProviderType: "anthropic",
		}}
	case "redacted_thinking":
		raw, _ := json.Marshal(ab)
		return content.OutputBlock{Type: content.BlockTypeUnknown, Unknown: &content.UnknownBlock{Data: raw}}
	default:
		raw, _ := json.Marshal(ab)
		return content.OutputBlock{Type: content.BlockTypeUnknown, Unknown: &content.UnknownBlock{Data: raw}}
	}
}

func anthropicFinishReason(stopReason string) content.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return content.FinishStop
	case "max_tokens":
		return content.FinishLength
	case "tool_use":
		return content.FinishToolCall
	case "refusal":
		return content.FinishContentFilter
	default:
		return content.FinishUnknown
	}
}

func (a *AnthropicProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/messages", a.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	return httpReq, nil
}

// --- non-streaming ------------------------------------------------------

func (a *AnthropicProvider) Infer(ctx context.Context, req *content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	start := time.Now()

	anthropicReq, err := toAnthropicRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindSerialization, err, "marshaling anthropic request")
	}
	body, err = ApplyExtraBody(body, req.ExtraBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := a.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	ApplyExtraHeaders(httpReq.Header.Set, req.ExtraHeaders)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInferenceServer, err, "sending request to anthropic")
	}
	defer httpResp.Body.Close()

	rawResponse, err := readAndClassify("anthropic", httpResp)
	if err != nil {
		return nil, err
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(rawResponse, &anthropicResp); err != nil {
		return nil, apierror.Wrap(apierror.KindTypeConversion, err, "decoding anthropic response")
	}

	var output []content.OutputBlock
	for _, block := range anthropicResp.Content {
		output = append(output, fromAnthropicOutputBlock(block))
	}
	finish := anthropicFinishReason(anthropicResp.StopReason)

	return &content.ProviderInferenceResponse{
		ID:          uuid.New(),
		Created:     time.Now().Unix(),
		Output:      output,
		RawRequest:  string(body),
		RawResponse: string(rawResponse),
		Usage: content.Usage{
			InputTokens:  anthropicResp.Usage.InputTokens,
			OutputTokens: anthropicResp.Usage.OutputTokens,
		},
		Latency:      content.Latency{Kind: content.LatencyNonStreaming, ResponseTime: time.Since(start)},
		FinishReason: &finish,
	}, nil
}

// --- streaming ------------------------------------------------------

func (a *AnthropicProvider) InferStream(ctx context.Context, req *content.ModelInferenceRequest) (<-chan StreamChunk, error) {
	anthropicReq, err := toAnthropicRequest(req)
	if err != nil {
		return nil, err
	}
	anthropicReq.Stream = true

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindSerialization, err, "marshaling anthropic request")
	}
	body, err = ApplyExtraBody(body, req.ExtraBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := a.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	ApplyExtraHeaders(httpReq.Header.Set, req.ExtraHeaders)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInferenceServer, err, "sending request to anthropic")
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		raw, _ := readBody(httpResp)
		return nil, classifyHTTPError("anthropic", httpResp.StatusCode, raw)
	}

	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var inputTokens, outputTokens int
		// currentToolName/currentToolID remember what content_block_start
		// announced, since content_block_delta events don't repeat it.
		currentToolName := map[int]string{}
		currentToolID := map[int]string{}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
				sendOrAbort(ctx, ch, StreamChunk{Done: true, Error: apierror.Wrap(apierror.KindTypeConversion, err, "decoding anthropic stream event")})
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					inputTokens = event.Message.Usage.InputTokens
				}

			case "content_block_start":
				if event.ContentBlock != nil {
					currentToolName[event.Index] = event.ContentBlock.Name
					currentToolID[event.Index] = event.ContentBlock.ID
				}

			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				block := blockFromDelta(currentToolID[event.Index], currentToolName[event.Index], *event.Delta)
				if block == nil {
					continue
				}
				if !sendOrAbort(ctx, ch, StreamChunk{Blocks: []content.OutputBlock{*block}}) {
					return
				}

			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}
				if event.Delta != nil && event.Delta.StopReason != "" {
					finish := anthropicFinishReason(event.Delta.StopReason)
					if !sendOrAbort(ctx, ch, StreamChunk{FinishReason: &finish}) {
						return
					}
				}

			case "message_stop":
				usage := content.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
				sendOrAbort(ctx, ch, StreamChunk{Done: true, Usage: &usage})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			sendOrAbort(ctx, ch, StreamChunk{Done: true, Error: apierror.Wrap(apierror.KindInferenceServer, err, "reading anthropic stream")})
		}
	}()

	return ch, nil
}

func blockFromDelta(toolID, toolName string, delta anthropicEventDelta) *content.OutputBlock {
	switch delta.Type {
	case "text_delta":
		return &content.OutputBlock{Type: content.BlockTypeText, Text: &content.TextBlock{Text: delta.Text}}
	case "input_json_delta":
		return &content.OutputBlock{Type: content.BlockTypeToolCall, ToolCall: &content.ToolCallBlock{
			ID: toolID, Name: toolName, Arguments: delta.PartialJSON,
		}}
	case "signature_delta":
		return &content.OutputBlock{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{
			Signature: delta.Signature, ProviderType: "anthropic",
		}}
	case "thinking_delta":
		return &content.OutputBlock{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{
			Text: delta.Text, ProviderType: "anthropic",
		}}
	default:
		return nil
	}
}

// sendOrAbort sends a chunk unless ctx is cancelled first; it reports
// whether the send happened so the caller can decide whether to keep
// reading the stream.
func sendOrAbort(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readAndClassify(providerKind string, resp *http.Response) ([]byte, error) {
	raw, err := readBody(resp)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInferenceServer, err, "reading provider response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(providerKind, resp.StatusCode, raw)
	}
	return raw, nil
}

func classifyHTTPError(providerKind string, status int, body []byte) error {
	kind := apierror.KindInferenceServer
	if ClassifyStatus(status) == ClassifyClient {
		kind = apierror.KindInferenceClient
	}
	return apierror.Newf(kind, "%s provider error (status %d): %s", providerKind, status, string(body))
}

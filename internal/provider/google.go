package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/content"
)

// GoogleProvider implements Provider for Google's Gemini API.
type GoogleProvider struct {
	name    string
	apiKey  string // sent as a query parameter, not a header
	baseURL string
	client  *http.Client
}

// NewGoogleProvider creates a GoogleProvider ready to make API calls.
func NewGoogleProvider(name, apiKey, baseURL string, client *http.Client) *GoogleProvider {
	return &GoogleProvider{name: name, apiKey: apiKey, baseURL: baseURL, client: client}
}

func (g *GoogleProvider) Name() string { return g.name }

// --- wire types -------------------------------------------------------

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponse `json:"functionResponse,omitempty"`
	Thought          bool                `json:"thought,omitempty"`
	ThoughtSignature string              `json:"thoughtSignature,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiFuncResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float32 `json:"temperature,omitempty"`
	TopP            float32 `json:"topP,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// --- request translation ----------------------------------------------

func toGeminiRequest(req *content.ModelInferenceRequest) (*geminiRequest, error) {
	gr := &geminiRequest{}

	if req.System != nil && *req.System != "" {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: *req.System}}}
	}

	for _, msg := range req.Messages {
		role := string(msg.Role)
		if role == string(content.RoleAssistant) {
			role = "model"
		}
		gc := geminiContent{Role: role}
		for _, block := range msg.Content {
			part, err := toGeminiPart(block)
			if err != nil {
				return nil, err
			}
			if part != nil {
				gc.Parts = append(gc.Parts, *part)
			}
		}
		if len(gc.Parts) > 0 {
			gr.Contents = append(gr.Contents, gc)
		}
	}

	if req.ToolConfig != nil && len(req.ToolConfig.Tools) > 0 {
		var decls []geminiFunctionDecl
		for _, tool := range req.ToolConfig.Tools {
			decls = append(decls, geminiFunctionDecl{Name: tool.Name, Description: tool.Description, Parameters: tool.Schema})
		}
		gr.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	gc := &geminiGenerationConfig{}
	var hasConfig bool
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		gc.MaxOutputTokens = *req.MaxTokens
		hasConfig = true
	}
	if req.Temperature != nil {
		gc.Temperature = *req.Temperature
		hasConfig = true
	}
	if req.TopP != nil {
		gc.TopP = *req.TopP
		hasConfig = true
	}
	if hasConfig {
		gr.GenerationConfig = gc
	}

	return gr, nil
}

func toGeminiPart(b content.Block) (*geminiPart, error) {
	switch b.Type {
	case content.BlockTypeText:
		return &geminiPart{Text: b.Text.Text}, nil
	case content.BlockTypeRawText:
		return &geminiPart{Text: b.RawText.Value}, nil
	case content.BlockTypeToolCall:
		return &geminiPart{FunctionCall: &geminiFunctionCall{Name: b.ToolCall.Name, Args: json.RawMessage(b.ToolCall.Arguments)}}, nil
	case content.BlockTypeToolResult:
		return &geminiPart{FunctionResponse: &geminiFuncResponse{Name: b.ToolResult.Name, Response: json.RawMessage(b.ToolResult.Result)}}, nil
	case content.BlockTypeThought:
		if b.Thought.Signature != "" {
			return &geminiPart{Thought: true, ThoughtSignature: b.Thought.Signature, Text: b.Thought.Text}, nil
		}
		return nil, nil
	case content.BlockTypeUnknown:
		if !b.Unknown.Matches("", "google_ai_studio") {
			return nil, nil
		}
		var p geminiPart
		if err := json.Unmarshal(b.Unknown.Data, &p); err != nil {
			return nil, fmt.Errorf("google: decoding unknown block: %w", err)
		}
		return &p, nil
	default:
		return nil, nil
	}
}

func fromGeminiPart(p geminiPart) content.OutputBlock {
	switch {
	case p.FunctionCall != nil:
		return content.OutputBlock{Type: content.BlockTypeToolCall, ToolCall: &content.ToolCallBlock{
			Name: p.FunctionCall.Name, Arguments: string(p.FunctionCall.Args),
		}}
	case p.Thought:
		return content.OutputBlock{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{
			Text: p.Text, Signature: p.ThoughtSignature, ProviderType: "google_ai_studio",
		}}
	case p.Text != "":
		return content.OutputBlock{Type: content.BlockTypeText, Text: &content.TextBlock{Text: p.Text}}
	default:
		raw, _ := json.Marshal(p)
		return content.OutputBlock{Type: content.BlockTypeUnknown, Unknown: &content.UnknownBlock{Data: raw}}
	}
}

func geminiFinishReason(reason string) content.FinishReason {
	switch reason {
	case "STOP":
		return content.FinishStop
	case "MAX_TOKENS":
		return content.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return content.FinishContentFilter
	default:
		return content.FinishUnknown
	}
}

func geminiUsage(u *geminiUsageMetadata) content.Usage {
	if u == nil {
		return content.Usage{}
	}
	return content.Usage{InputTokens: u.PromptTokenCount, OutputTokens: u.CandidatesTokenCount}
}

// --- non-streaming ------------------------------------------------------

func (g *GoogleProvider) Infer(ctx context.Context, req *content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	start := time.Now()

	geminiReq, err := toGeminiRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindSerialization, err, "marshaling gemini request")
	}
	body, err = ApplyExtraBody(body, req.ExtraBody)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.ModelName, url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	ApplyExtraHeaders(httpReq.Header.Set, req.ExtraHeaders)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInferenceServer, err, "sending request to gemini")
	}
	defer httpResp.Body.Close()

	rawResponse, err := readAndClassify("google_ai_studio", httpResp)
	if err != nil {
		return nil, err
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(rawResponse, &geminiResp); err != nil {
		return nil, apierror.Wrap(apierror.KindTypeConversion, err, "decoding gemini response")
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, apierror.New(apierror.KindNoStreamContent, "gemini returned no candidates")
	}

	candidate := geminiResp.Candidates[0]
	var output []content.OutputBlock
	for _, part := range candidate.Content.Parts {
		output = append(output, fromGeminiPart(part))
	}
	finish := geminiFinishReason(candidate.FinishReason)

	return &content.ProviderInferenceResponse{
		ID:           uuid.New(),
		Created:      time.Now().Unix(),
		Output:       output,
		RawRequest:   string(body),
		RawResponse:  string(rawResponse),
		Usage:        geminiUsage(geminiResp.UsageMetadata),
		Latency:      content.Latency{Kind: content.LatencyNonStreaming, ResponseTime: time.Since(start)},
		FinishReason: &finish,
	}, nil
}

// --- streaming ------------------------------------------------------

func (g *GoogleProvider) InferStream(ctx context.Context, req *content.ModelInferenceRequest) (<-chan StreamChunk, error) {
	geminiReq, err := toGeminiRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindSerialization, err, "marshaling gemini request")
	}
	body, err = ApplyExtraBody(body, req.ExtraBody)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, req.ModelName, url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	ApplyExtraHeaders(httpReq.Header.Set, req.ExtraHeaders)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInferenceServer, err, "sending request to gemini")
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		raw, _ := readBody(httpResp)
		return nil, classifyHTTPError("google_ai_studio", httpResp.StatusCode, raw)
	}

	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")

			var geminiResp geminiResponse
			if err := json.Unmarshal([]byte(jsonData), &geminiResp); err != nil {
				sendOrAbort(ctx, ch, StreamChunk{Done: true, Error: apierror.Wrap(apierror.KindTypeConversion, err, "decoding gemini stream event")})
				return
			}
			if len(geminiResp.Candidates) == 0 {
				continue
			}
			candidate := geminiResp.Candidates[0]

			var blocks []content.OutputBlock
			for _, part := range candidate.Content.Parts {
				blocks = append(blocks, fromGeminiPart(part))
			}

			chunk := StreamChunk{Blocks: blocks}
			if candidate.FinishReason != "" {
				finish := geminiFinishReason(candidate.FinishReason)
				chunk.FinishReason = &finish
			}
			if geminiResp.UsageMetadata != nil {
				usage := geminiUsage(geminiResp.UsageMetadata)
				chunk.Usage = &usage
			}

			if !sendOrAbort(ctx, ch, chunk) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			sendOrAbort(ctx, ch, StreamChunk{Done: true, Error: apierror.Wrap(apierror.KindInferenceServer, err, "reading gemini stream")})
			return
		}
		sendOrAbort(ctx, ch, StreamChunk{Done: true})
	}()

	return ch, nil
}

package server

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/cache"
	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/coordinator"
)

// inferenceRequestWire is the decoded JSON body of a /v1/inference call
// (spec.md section 6).
type inferenceRequestWire struct {
	FunctionName *string `json:"function_name"`
	ModelName    *string `json:"model_name"`
	VariantName  *string `json:"variant_name"`
	EpisodeID    *string `json:"episode_id"`

	Input struct {
		System   json.RawMessage `json:"system"`
		Messages []wireMessage   `json:"messages"`
	} `json:"input"`

	Stream bool `json:"stream"`
	Dryrun bool `json:"dryrun"`

	Params struct {
		ChatCompletion *wireParams `json:"chat_completion"`
	} `json:"params"`

	Tags map[string]string `json:"tags"`

	ToolChoice         *wireToolChoice  `json:"tool_choice"`
	AdditionalTools    []wireTool       `json:"additional_tools"`
	ParallelToolCalls  *bool            `json:"parallel_tool_calls"`
	OutputSchema       json.RawMessage  `json:"output_schema"`
	Credentials        map[string]string `json:"credentials"`
	CacheOptions       *wireCacheOptions `json:"cache_options"`

	IncludeOriginalResponse bool `json:"include_original_response"`
	ExtraBody               json.RawMessage `json:"extra_body"`
}

type wireMessage struct {
	Role    content.Role    `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireParams struct {
	Temperature      *float32 `json:"temperature"`
	TopP             *float32 `json:"top_p"`
	MaxTokens        *int     `json:"max_tokens"`
	PresencePenalty  *float32 `json:"presence_penalty"`
	FrequencyPenalty *float32 `json:"frequency_penalty"`
	Seed             *int     `json:"seed"`
}

type wireToolChoice struct {
	Mode string `json:"mode"`
	Name string `json:"name"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireCacheOptions struct {
	Mode string `json:"mode"`
}

// decodeRequest turns the wire request into a coordinator.InferenceRequest,
// failing with KindInvalidRequest on any structural problem (spec.md
// section 6's own Validate then catches the cross-field constraints this
// can't, e.g. "exactly one of function_name/model_name").
func decodeRequest(body []byte) (coordinator.InferenceRequest, error) {
	var wire inferenceRequestWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return coordinator.InferenceRequest{}, apierror.Wrap(apierror.KindInvalidRequest, err, "decoding request body")
	}

	req := coordinator.InferenceRequest{
		FunctionName:            wire.FunctionName,
		ModelName:                wire.ModelName,
		VariantName:              wire.VariantName,
		Stream:                   wire.Stream,
		Tags:                     wire.Tags,
		IncludeOriginalResponse:  wire.IncludeOriginalResponse,
		FetchAndEncodeInputFiles: true,
		OutputSchema:             wire.OutputSchema,
	}

	if wire.EpisodeID != nil {
		id, err := uuid.Parse(*wire.EpisodeID)
		if err != nil {
			return coordinator.InferenceRequest{}, apierror.Wrap(apierror.KindInvalidRequest, err, "parsing episode_id")
		}
		req.EpisodeID = &id
	}

	messages := make([]content.Message, 0, len(wire.Input.Messages))
	for _, m := range wire.Input.Messages {
		var blocks []content.Block
		if len(m.Content) > 0 {
			if err := json.Unmarshal(m.Content, &blocks); err != nil {
				// Some clients send a bare string as a message's content
				// instead of a block array; treat it as a single raw-text
				// block rather than rejecting the request.
				var text string
				if strErr := json.Unmarshal(m.Content, &text); strErr != nil {
					return coordinator.InferenceRequest{}, apierror.Wrap(apierror.KindInvalidRequest, err, "decoding message content")
				}
				blocks = []content.Block{{Type: content.BlockTypeRawText, RawText: &content.RawTextBlock{Value: text}}}
			}
		}
		messages = append(messages, content.Message{Role: m.Role, Content: blocks})
	}
	req.Input = content.Input{Messages: messages}
	if len(wire.Input.System) > 0 {
		var sys content.System
		if err := json.Unmarshal(wire.Input.System, &sys); err != nil {
			return coordinator.InferenceRequest{}, apierror.Wrap(apierror.KindInvalidRequest, err, "decoding input.system")
		}
		req.Input.System = &sys
	}

	if wire.Params.ChatCompletion != nil {
		p := wire.Params.ChatCompletion
		req.Params = coordinator.RequestParams{
			Temperature:      p.Temperature,
			TopP:             p.TopP,
			MaxTokens:        p.MaxTokens,
			PresencePenalty:  p.PresencePenalty,
			FrequencyPenalty: p.FrequencyPenalty,
			Seed:             p.Seed,
		}
	}

	if wire.ToolChoice != nil || len(wire.AdditionalTools) > 0 {
		tc := &content.ToolCallConfig{}
		if wire.ParallelToolCalls != nil {
			tc.ParallelToolCalls = *wire.ParallelToolCalls
		}
		for _, t := range wire.AdditionalTools {
			tc.Tools = append(tc.Tools, content.ToolDefinition{Name: t.Name, Description: t.Description, Schema: t.Parameters})
		}
		if wire.ToolChoice != nil {
			mode := content.ToolChoiceMode(wire.ToolChoice.Mode)
			if mode == "" {
				mode = content.ToolChoiceAuto
			}
			tc.ToolChoice = content.ToolChoice{Mode: mode, Specific: wire.ToolChoice.Name}
		}
		req.DynamicToolConfig = tc
	}

	if wire.CacheOptions != nil {
		req.CacheOptions = &coordinator.CacheOptions{Mode: cache.Mode(wire.CacheOptions.Mode)}
	}

	if err := req.Validate(); err != nil {
		return coordinator.InferenceRequest{}, err
	}
	return req, nil
}

// inferenceResponseWire is the non-streaming /v1/inference response body
// (spec.md section 6).
type inferenceResponseWire struct {
	InferenceID string `json:"inference_id"`
	EpisodeID   string `json:"episode_id"`
	VariantName string `json:"variant_name"`

	Content []content.ChatOutputBlock `json:"content,omitempty"`
	Output  *content.JSONResult      `json:"output,omitempty"`

	Usage wireUsage `json:"usage"`

	OriginalResponse *string `json:"original_response,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func encodeResponse(resp *coordinator.InferenceResponse) inferenceResponseWire {
	w := inferenceResponseWire{
		InferenceID:      resp.InferenceID.String(),
		EpisodeID:        resp.EpisodeID.String(),
		VariantName:      resp.VariantName,
		Content:          resp.Chat,
		Output:           resp.JSON,
		Usage:            wireUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		OriginalResponse: resp.OriginalResponse,
	}
	return w
}

// errorBody is the uniform error response shape spec.md section 6 and 7
// specify: `{error: "<message>"}`.
type errorBody struct {
	Error string `json:"error"`
}

func errorMessage(err error) string {
	if e, ok := apierror.As(err); ok {
		if e.Kind == apierror.KindModelProvidersExhausted && e.ProviderErrors != nil {
			msgs := make(map[string]string, len(e.ProviderErrors))
			for name, perr := range e.ProviderErrors {
				msgs[name] = perr.Error()
			}
			b, _ := json.Marshal(msgs)
			return fmt.Sprintf("%s: %s", e.Message, string(b))
		}
	}
	return err.Error()
}

package variant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/router"
)

type stubRenderer struct{}

func (stubRenderer) Render(name string, args map[string]any) (string, error) {
	return "rendered:" + name, nil
}

func TestChatCompletionRendersTemplateArguments(t *testing.T) {
	var capturedReq *content.ModelInferenceRequest
	v := &ChatCompletionVariant{
		VariantName:  "v1",
		Model:        router.Model{Name: "gpt"},
		UserTemplate: "weather_prompt",
		Renderer:     stubRenderer{},
		Route: func(ctx context.Context, m router.Model, req *content.ModelInferenceRequest) (*content.ModelInferenceResponse, error) {
			capturedReq = req
			return &content.ModelInferenceResponse{ProviderInferenceResponse: content.ProviderInferenceResponse{
				Output: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "ok"}}},
			}}, nil
		},
	}

	input := content.ResolvedInput{Messages: []content.ResolvedMessage{
		{Role: content.RoleUser, Content: []content.ResolvedBlock{
			{Block: content.Block{Type: content.BlockTypeTemplateArguments, TemplateArguments: &content.TemplateArgumentsBlock{
				Name: "weather_prompt", Arguments: map[string]any{"city": "Brooklyn"},
			}}},
		}},
	}}

	res, err := v.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Chat[0].Text.Text)
	require.Len(t, capturedReq.Messages[0].Content, 1)
	assert.Equal(t, content.BlockTypeRawText, capturedReq.Messages[0].Content[0].Type)
	assert.Equal(t, "rendered:weather_prompt", capturedReq.Messages[0].Content[0].RawText.Value)
}

func TestChatCompletionPassesThroughWhenNoTemplate(t *testing.T) {
	v := &ChatCompletionVariant{
		VariantName: "v1",
		Model:       router.Model{Name: "gpt"},
		Route: func(ctx context.Context, m router.Model, req *content.ModelInferenceRequest) (*content.ModelInferenceResponse, error) {
			return &content.ModelInferenceResponse{ProviderInferenceResponse: content.ProviderInferenceResponse{
				Output: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "ok"}}},
			}}, nil
		},
	}

	input := content.ResolvedInput{Messages: []content.ResolvedMessage{
		{Role: content.RoleUser, Content: []content.ResolvedBlock{
			{Block: content.Block{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "hi"}}},
		}},
	}}

	res, err := v.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Chat[0].Text.Text)
}

func TestAssembleResultJSONFunctionCollectsTextAsRaw(t *testing.T) {
	output := []content.OutputBlock{
		{Type: content.BlockTypeText, Text: &content.TextBlock{Text: `{"answer"`}},
		{Type: content.BlockTypeText, Text: &content.TextBlock{Text: `:"Hello"}`}},
	}
	res := assembleResult("v1", content.FunctionJSON, output, nil)
	require.Equal(t, content.InferenceResultJSON, res.Kind)
	assert.Equal(t, `{"answer":"Hello"}`, res.JSON.Raw)
}

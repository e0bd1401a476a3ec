package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/content"
)

func TestGeminiFinishReasonMapping(t *testing.T) {
	cases := map[string]content.FinishReason{
		"STOP":              content.FinishStop,
		"MAX_TOKENS":        content.FinishLength,
		"SAFETY":            content.FinishContentFilter,
		"RECITATION":        content.FinishContentFilter,
		"BLOCKLIST":         content.FinishContentFilter,
		"PROHIBITED_CONTENT": content.FinishContentFilter,
		"OTHER":             content.FinishUnknown,
	}
	for reason, want := range cases {
		assert.Equal(t, want, geminiFinishReason(reason), "finish reason %q", reason)
	}
}

func TestToGeminiPartMapsToolCallToFunctionCall(t *testing.T) {
	b := content.Block{Type: content.BlockTypeToolCall, ToolCall: &content.ToolCallBlock{
		ID: "call_1", Name: "get_weather", Arguments: `{"city":"nyc"}`,
	}}
	p, err := toGeminiPart(b)
	require.NoError(t, err)
	require.NotNil(t, p.FunctionCall)
	assert.Equal(t, "get_weather", p.FunctionCall.Name)
}

func TestToGeminiPartDropsUnsignedThought(t *testing.T) {
	b := content.Block{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{Text: "reasoning"}}
	p, err := toGeminiPart(b)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFromGeminiPartFunctionCallBecomesToolCallBlock(t *testing.T) {
	p := geminiPart{FunctionCall: &geminiFunctionCall{Name: "lookup", Args: json.RawMessage(`{"q":"go"}`)}}
	out := fromGeminiPart(p)
	require.Equal(t, content.BlockTypeToolCall, out.Type)
	assert.Equal(t, "lookup", out.ToolCall.Name)
}

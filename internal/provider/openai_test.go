package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/content"
)

func TestOpenAIFinishReasonMapping(t *testing.T) {
	cases := map[string]content.FinishReason{
		"stop":           content.FinishStop,
		"length":         content.FinishLength,
		"tool_calls":     content.FinishToolCall,
		"content_filter": content.FinishContentFilter,
		"":               content.FinishUnknown,
	}
	for reason, want := range cases {
		assert.Equal(t, want, openAIFinishReason(reason), "finish_reason %q", reason)
	}
}

func TestToOpenAIMessagesIncludesSystemAsFirstMessage(t *testing.T) {
	system := "be terse"
	req := &content.ModelInferenceRequest{
		System: &system,
		Messages: []content.RequestMessage{
			{Role: content.RoleUser, Content: []content.Block{
				{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "hi"}},
			}},
		},
	}
	msgs := toOpenAIMessages(req)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].OfSystem)
}

func TestToOpenAIMessagesAssistantToolCallRoundTrips(t *testing.T) {
	req := &content.ModelInferenceRequest{
		Messages: []content.RequestMessage{
			{Role: content.RoleAssistant, Content: []content.Block{
				{Type: content.BlockTypeToolCall, ToolCall: &content.ToolCallBlock{ID: "call_1", Name: "lookup", Arguments: `{"q":"go"}`}},
			}},
		},
	}
	msgs := toOpenAIMessages(req)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].OfAssistant)
	require.Len(t, msgs[0].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "lookup", msgs[0].OfAssistant.ToolCalls[0].OfFunction.Function.Name)
}

func TestToOpenAIToolsSpecificChoice(t *testing.T) {
	tc := &content.ToolCallConfig{
		Tools:      []content.ToolDefinition{{Name: "search", Description: "d", Schema: []byte(`{"type":"object"}`)}},
		ToolChoice: content.ToolChoice{Mode: content.ToolChoiceSpecific, Specific: "search"},
	}
	tools, choice := toOpenAITools(tc)
	require.Len(t, tools, 1)
	require.NotNil(t, choice.OfChatCompletionNamedToolChoice)
	assert.Equal(t, "search", choice.OfChatCompletionNamedToolChoice.Function.Name)
}

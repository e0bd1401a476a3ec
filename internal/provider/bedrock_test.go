package provider

import (
	"testing"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/content"
)

func TestBedrockFinishReasonMapping(t *testing.T) {
	cases := map[brtypes.StopReason]content.FinishReason{
		brtypes.StopReasonEndTurn:      content.FinishStop,
		brtypes.StopReasonStopSequence: content.FinishStop,
		brtypes.StopReasonMaxTokens:    content.FinishLength,
		brtypes.StopReasonToolUse:      content.FinishToolCall,
		brtypes.StopReasonContentFiltered: content.FinishContentFilter,
	}
	for stop, want := range cases {
		assert.Equal(t, want, bedrockFinishReason(stop), "stop reason %q", stop)
	}
}

func TestToBedrockBlockDropsThought(t *testing.T) {
	b := content.Block{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{Text: "reasoning", Signature: "sig"}}
	bb, err := toBedrockBlock(b)
	require.NoError(t, err)
	assert.Nil(t, bb, "converse has no interleaved-thinking content block to carry this")
}

func TestToBedrockBlockText(t *testing.T) {
	b := content.Block{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "hi"}}
	bb, err := toBedrockBlock(b)
	require.NoError(t, err)
	tb, ok := bb.(*brtypes.ContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "hi", tb.Value)
}

func TestToBedrockToolConfigSpecificChoice(t *testing.T) {
	tc := &content.ToolCallConfig{
		Tools:      []content.ToolDefinition{{Name: "search", Description: "search the web", Schema: []byte(`{"type":"object"}`)}},
		ToolChoice: content.ToolChoice{Mode: content.ToolChoiceSpecific, Specific: "search"},
	}
	cfg, err := toBedrockToolConfig(tc)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	choice, ok := cfg.ToolChoice.(*brtypes.ToolChoiceMemberTool)
	require.True(t, ok)
	assert.Equal(t, "search", *choice.Value.Name)
}

func TestToBedrockToolConfigNilWhenNoTools(t *testing.T) {
	cfg, err := toBedrockToolConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

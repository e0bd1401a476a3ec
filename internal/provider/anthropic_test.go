package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"

	"github.com/tzrouter/gateway/internal/content"
)

// newVCRClient returns a go-vcr recorder backed by a cassette under
// testdata/; its GetDefaultClient is the *http.Client handed to the
// provider. Cassettes are recorded once against the live API and replayed
// thereafter.
func newVCRClient(t *testing.T, cassette string) *recorder.Recorder {
	t.Helper()
	rec, err := recorder.New("testdata/" + cassette)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rec.Stop()) })
	return rec
}

func TestAnthropicInferNonStreaming(t *testing.T) {
	rec := newVCRClient(t, "anthropic_infer_text")
	p := NewAnthropicProvider("anthropic-primary", "test-key", "https://api.anthropic.com", rec.GetDefaultClient())

	req := &content.ModelInferenceRequest{
		ModelName: "claude-haiku-4-5",
		Messages: []content.RequestMessage{
			{Role: content.RoleUser, Content: []content.Block{
				{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "say hello in one word"}},
			}},
		},
		MaxTokens: intPtr(16),
	}

	resp, err := p.Infer(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Output)
	assert.Equal(t, content.BlockTypeText, resp.Output[0].Type)
	assert.NotEmpty(t, resp.Output[0].Text.Text)
	assert.Equal(t, content.LatencyNonStreaming, resp.Latency.Kind)
}

func TestAnthropicToAnthropicBlockDropsUnsignedThought(t *testing.T) {
	b := content.Block{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{Text: "scratch work"}}
	ab, err := toAnthropicBlock(b)
	require.NoError(t, err)
	assert.Nil(t, ab, "a thought without a signature cannot be replayed to the provider")
}

func TestAnthropicToAnthropicBlockKeepsSignedThought(t *testing.T) {
	b := content.Block{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{Text: "scratch work", Signature: "sig123"}}
	ab, err := toAnthropicBlock(b)
	require.NoError(t, err)
	require.NotNil(t, ab)
	assert.Equal(t, "sig123", ab.Signature)
}

func TestAnthropicUnknownBlockScopedToOtherProviderDropped(t *testing.T) {
	b := content.Block{Type: content.BlockTypeUnknown, Unknown: &content.UnknownBlock{
		Data:       []byte(`{"foo":"bar"}`),
		ModelScope: content.FullyQualifiedScope("gemini-3-pro", "google_ai_studio"),
	}}
	ab, err := toAnthropicBlock(b)
	require.NoError(t, err)
	assert.Nil(t, ab)
}

func TestAnthropicFinishReasonMapping(t *testing.T) {
	cases := map[string]content.FinishReason{
		"end_turn":      content.FinishStop,
		"stop_sequence": content.FinishStop,
		"max_tokens":    content.FinishLength,
		"tool_use":      content.FinishToolCall,
		"refusal":       content.FinishContentFilter,
		"":              content.FinishUnknown,
	}
	for stop, want := range cases {
		assert.Equal(t, want, anthropicFinishReason(stop), "stop_reason %q", stop)
	}
}

func intPtr(v int) *int { return &v }

package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/provider"
)

func textChunk(s string) provider.StreamChunk {
	return provider.StreamChunk{Blocks: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: s}}}}
}

func toolChunk(id, name, args string) provider.StreamChunk {
	return provider.StreamChunk{Blocks: []content.OutputBlock{{
		Type:     content.BlockTypeToolCall,
		ToolCall: &content.ToolCallBlock{ID: id, Name: name, Arguments: args},
	}}}
}

func chanOf(chunks ...provider.StreamChunk) <-chan provider.StreamChunk {
	ch := make(chan provider.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollectFoldsTextDeltas(t *testing.T) {
	ch := chanOf(textChunk("Hel"), textChunk("lo"), provider.StreamChunk{Done: true})
	res := Collect(context.Background(), ch)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Output) != 1 || res.Output[0].Text.Text != "Hello" {
		t.Fatalf("output = %+v, want single block \"Hello\"", res.Output)
	}
}

func TestCollectMergesToolCallByID(t *testing.T) {
	ch := chanOf(
		toolChunk("call_1", "lookup", `{"q":`),
		toolChunk("call_1", "", `"x"}`),
		provider.StreamChunk{Done: true},
	)
	res := Collect(context.Background(), ch)

	if len(res.Output) != 1 {
		t.Fatalf("got %d output blocks, want 1", len(res.Output))
	}
	tc := res.Output[0].ToolCall
	if tc.Name != "lookup" || tc.Arguments != `{"q":"x"}` {
		t.Errorf("tool call = %+v, want name=lookup arguments={\"q\":\"x\"}", tc)
	}
}

func TestCollectSumsUsageSaturating(t *testing.T) {
	ch := chanOf(
		provider.StreamChunk{Usage: &content.Usage{InputTokens: 10, OutputTokens: 1}},
		provider.StreamChunk{Usage: &content.Usage{InputTokens: 0, OutputTokens: 2}, Done: true},
	)
	res := Collect(context.Background(), ch)

	if res.Usage.InputTokens != 10 || res.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v, want {10 3}", res.Usage)
	}
}

func TestCollectPreservesOutputOnMidStreamError(t *testing.T) {
	boom := errors.New("boom")
	ch := chanOf(
		textChunk("partial"),
		provider.StreamChunk{Error: boom},
	)
	res := Collect(context.Background(), ch)

	if res.Err != boom {
		t.Fatalf("err = %v, want %v", res.Err, boom)
	}
	if len(res.Output) != 1 || res.Output[0].Text.Text != "partial" {
		t.Errorf("output = %+v, want partial text preserved", res.Output)
	}
}

func TestAccumulatorOrdersToolsThenThoughtThenText(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(textChunk("answer"))
	acc.Add(provider.StreamChunk{Blocks: []content.OutputBlock{{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{Text: "thinking"}}}})
	acc.Add(toolChunk("call_1", "lookup", `{}`))

	res := acc.Result(nil)
	if len(res.Output) != 3 {
		t.Fatalf("got %d blocks, want 3", len(res.Output))
	}
	if res.Output[0].Type != content.BlockTypeToolCall {
		t.Errorf("output[0] = %v, want tool_call first", res.Output[0].Type)
	}
	if res.Output[1].Type != content.BlockTypeThought {
		t.Errorf("output[1] = %v, want thought second", res.Output[1].Type)
	}
	if res.Output[2].Type != content.BlockTypeText {
		t.Errorf("output[2] = %v, want text last", res.Output[2].Type)
	}
}

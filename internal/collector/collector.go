// Package collector folds a provider's stream of chunks into the same
// shape a non-streaming call would have produced (spec.md 4.4, invariant
// I3). Text and thought deltas arrive with no block id and are treated as
// one running block each; tool-call deltas carry a stable id and are
// merged by it, since a provider may interleave multiple in-progress tool
// calls across chunks.
package collector

import (
	"context"
	"time"

	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/provider"
)

type toolAccum struct {
	name      string
	arguments string
	order     int
}

// Result is the folded outcome of one provider stream.
type Result struct {
	Output       []content.OutputBlock
	Usage        content.Usage
	FinishReason *content.FinishReason
	TTFT         time.Duration
	Err          error
}

// Accumulator folds chunks one at a time, for callers that must also
// forward each chunk to a client as it arrives (the coordinator's SSE
// pump) and so can't hand the whole channel to Collect.
type Accumulator struct {
	start   time.Time
	gotFirst bool
	ttft    time.Duration

	text     string
	thought  string
	tools    map[string]*toolAccum
	toolOrder []string

	usage  content.Usage
	finish *content.FinishReason
}

// NewAccumulator starts a fresh fold, timing TTFT from this call.
func NewAccumulator() *Accumulator {
	return &Accumulator{start: time.Now(), tools: map[string]*toolAccum{}}
}

// Add merges one chunk's blocks, usage, and finish reason into the fold.
func (a *Accumulator) Add(chunk provider.StreamChunk) {
	if len(chunk.Blocks) > 0 && !a.gotFirst {
		a.gotFirst = true
		a.ttft = time.Since(a.start)
	}
	for _, b := range chunk.Blocks {
		switch b.Type {
		case content.BlockTypeText:
			if b.Text != nil {
				a.text += b.Text.Text
			}
		case content.BlockTypeThought:
			if b.Thought != nil {
				a.thought += b.Thought.Text
			}
		case content.BlockTypeToolCall:
			if b.ToolCall == nil {
				continue
			}
			acc, ok := a.tools[b.ToolCall.ID]
			if !ok {
				acc = &toolAccum{name: b.ToolCall.Name, order: len(a.toolOrder)}
				a.tools[b.ToolCall.ID] = acc
				a.toolOrder = append(a.toolOrder, b.ToolCall.ID)
			}
			acc.arguments += b.ToolCall.Arguments
			if b.ToolCall.Name != "" {
				acc.name = b.ToolCall.Name
			}
		}
	}
	if chunk.Usage != nil {
		a.usage.Add(*chunk.Usage)
	}
	if chunk.FinishReason != nil {
		a.finish = chunk.FinishReason
	}
}

// Result assembles the folded output in a deterministic
// tool-then-thought-then-text order (spec.md 4.5/7) and attaches err —
// a mid-stream error still returns every block folded before it, so
// partial output is never discarded.
func (a *Accumulator) Result(err error) Result {
	var out []content.OutputBlock
	for _, id := range a.toolOrder {
		acc := a.tools[id]
		out = append(out, content.OutputBlock{
			Type:     content.BlockTypeToolCall,
			ToolCall: &content.ToolCallBlock{ID: id, Name: acc.name, Arguments: acc.arguments},
		})
	}
	if a.thought != "" {
		out = append(out, content.OutputBlock{Type: content.BlockTypeThought, Thought: &content.ThoughtBlock{Text: a.thought}})
	}
	if a.text != "" {
		out = append(out, content.OutputBlock{Type: content.BlockTypeText, Text: &content.TextBlock{Text: a.text}})
	}
	return Result{Output: out, Usage: a.usage, FinishReason: a.finish, TTFT: a.ttft, Err: err}
}

// Collect reads every chunk off ch until it closes or reports a terminal
// error or Done, folding them with an Accumulator. It never returns a Go
// error for a mid-stream provider failure — that is reported on
// Result.Err so the caller can still inspect whatever content arrived
// before the failure (spec.md 7: "streaming errors after the first
// successful chunk terminate the stream with an error event but preserve
// prior chunks").
func Collect(ctx context.Context, ch <-chan provider.StreamChunk) Result {
	acc := NewAccumulator()
	for {
		select {
		case <-ctx.Done():
			return acc.Result(ctx.Err())
		case chunk, ok := <-ch:
			if !ok {
				return acc.Result(nil)
			}
			acc.Add(chunk)
			if chunk.Error != nil {
				return acc.Result(chunk.Error)
			}
			if chunk.Done {
				return acc.Result(nil)
			}
		}
	}
}

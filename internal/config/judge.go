package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/router"
	"github.com/tzrouter/gateway/internal/variant"
)

// candidatesText renders each candidate's chat text for a judge/fuser
// prompt: "1. <text>\n2. <text>\n...".
func candidatesText(candidates []content.InferenceResult) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, candidateText(c))
	}
	return b.String()
}

func candidateText(c content.InferenceResult) string {
	var b strings.Builder
	for _, block := range c.Chat {
		if block.Type == content.BlockTypeText && block.Text != nil {
			b.WriteString(block.Text.Text)
		}
	}
	return b.String()
}

// newJudge builds a BestOfNVariant JudgeFunc that asks the evaluator model
// to pick a winning candidate by number, parsing the first integer out of
// its reply. A reply that doesn't parse or is out of range is treated as
// judge failure, letting BestOfNVariant fall back to its deterministic
// random pick (variant.randomSuccess).
func newJudge(model router.Model, template string, renderer *templateRenderer) variant.JudgeFunc {
	return func(ctx context.Context, candidates []content.InferenceResult) (int, error) {
		prompt, err := renderer.Render(template, map[string]any{"candidates": candidatesText(candidates)})
		if err != nil {
			return -1, err
		}

		resp, err := router.Route(ctx, model, &content.ModelInferenceRequest{
			Messages: []content.RequestMessage{
				{Role: content.RoleUser, Content: []content.Block{
					{Type: content.BlockTypeRawText, RawText: &content.RawTextBlock{Value: prompt}},
				}},
			},
		})
		if err != nil {
			return -1, err
		}

		winner, err := parseWinnerIndex(resp.Output, len(candidates))
		if err != nil {
			return -1, err
		}
		return winner, nil
	}
}

// newFuser builds a MixtureOfNVariant FuserFunc that sends every
// candidate's text to the evaluator model and returns the text blocks of
// its reply verbatim, one output block per text block; non-text blocks are
// dropped.
func newFuser(model router.Model, template string, renderer *templateRenderer) variant.FuserFunc {
	return func(ctx context.Context, candidates []content.InferenceResult) ([]content.ChatOutputBlock, error) {
		prompt, err := renderer.Render(template, map[string]any{"candidates": candidatesText(candidates)})
		if err != nil {
			return nil, err
		}

		resp, err := router.Route(ctx, model, &content.ModelInferenceRequest{
			Messages: []content.RequestMessage{
				{Role: content.RoleUser, Content: []content.Block{
					{Type: content.BlockTypeRawText, RawText: &content.RawTextBlock{Value: prompt}},
				}},
			},
		})
		if err != nil {
			return nil, err
		}

		var out []content.ChatOutputBlock
		for _, b := range resp.Output {
			if b.Type == content.BlockTypeText {
				out = append(out, content.ChatOutputBlock{Type: b.Type, Text: b.Text})
			}
		}
		return out, nil
	}
}

func parseWinnerIndex(output []content.OutputBlock, n int) (int, error) {
	var text string
	for _, b := range output {
		if b.Type == content.BlockTypeText && b.Text != nil {
			text += b.Text.Text
		}
	}

	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			continue
		}
		if digits.Len() > 0 {
			break
		}
	}
	if digits.Len() == 0 {
		return -1, fmt.Errorf("config: judge reply %q has no candidate number", text)
	}

	n1, err := strconv.Atoi(digits.String())
	if err != nil {
		return -1, err
	}
	idx := n1 - 1
	if idx < 0 || idx >= n {
		return -1, fmt.Errorf("config: judge picked out-of-range candidate %d of %d", n1, n)
	}
	return idx, nil
}

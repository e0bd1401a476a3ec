package variant

import (
	"context"
	"fmt"

	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/router"
)

// Embedder turns text into a vector for similarity lookup.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Example is one stored demonstration: the input that was asked and the
// output the demonstration shows.
type Example struct {
	Input  string
	Output string
}

// ExampleStore finds the K nearest stored examples to a query embedding.
type ExampleStore interface {
	NearestNeighbors(ctx context.Context, embedding []float32, k int) ([]Example, error)
}

// DICLVariant looks up the K nearest examples by embedding similarity and
// injects them as demonstration messages ahead of the real conversation,
// then delegates to the router like ChatCompletion (spec.md 4.6).
type DICLVariant struct {
	VariantName string
	Model       router.Model
	Options     RequestOptions

	Embedder Embedder
	Store    ExampleStore
	K        int

	Route RouteFunc
}

func (v *DICLVariant) Name() string { return v.VariantName }

func (v *DICLVariant) Execute(ctx context.Context, input content.ResolvedInput) (content.InferenceResult, error) {
	req, err := v.buildRequest(ctx, input)
	if err != nil {
		return content.InferenceResult{}, err
	}

	resp, err := v.Route(ctx, v.Model, req)
	if err != nil {
		return content.InferenceResult{}, err
	}

	meta := modelResponseFromRoute(v.Model.Name, v.VariantName, resp)
	return assembleResult(v.VariantName, v.Options.FunctionType, resp.Output, []content.ModelInferenceResponseWithMetadata{meta}), nil
}

// PrepareStream runs the same embedding lookup and demonstration assembly as
// Execute, but returns the request to dispatch rather than dispatching it —
// the coordinator's streaming path needs router.RouteStream's raw chunk
// channel, which Route's synchronous signature can't give it.
func (v *DICLVariant) PrepareStream(ctx context.Context, input content.ResolvedInput) (router.Model, *content.ModelInferenceRequest, error) {
	req, err := v.buildRequest(ctx, input)
	if err != nil {
		return router.Model{}, nil, err
	}
	return v.Model, req, nil
}

func (v *DICLVariant) buildRequest(ctx context.Context, input content.ResolvedInput) (*content.ModelInferenceRequest, error) {
	query := lastUserText(input)

	var demonstrations []content.RequestMessage
	if query != "" {
		embedding, err := v.Embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("variant: embedding DICL query: %w", err)
		}
		examples, err := v.Store.NearestNeighbors(ctx, embedding, v.K)
		if err != nil {
			return nil, fmt.Errorf("variant: looking up DICL examples: %w", err)
		}
		demonstrations = toDemonstrationMessages(examples)
	}

	messages := append(demonstrations, resolvedToRequestMessages(input.Messages)...)

	var system *string
	if input.System != nil {
		s := input.System.Text
		system = &s
	}

	return buildRequest(messages, system, v.Options), nil
}

func toDemonstrationMessages(examples []Example) []content.RequestMessage {
	out := make([]content.RequestMessage, 0, len(examples)*2)
	for _, ex := range examples {
		out = append(out,
			content.RequestMessage{Role: content.RoleUser, Content: []content.Block{
				{Type: content.BlockTypeRawText, RawText: &content.RawTextBlock{Value: ex.Input}},
			}},
			content.RequestMessage{Role: content.RoleAssistant, Content: []content.Block{
				{Type: content.BlockTypeRawText, RawText: &content.RawTextBlock{Value: ex.Output}},
			}},
		)
	}
	return out
}

func resolvedToRequestMessages(messages []content.ResolvedMessage) []content.RequestMessage {
	out := make([]content.RequestMessage, 0, len(messages))
	for _, m := range messages {
		blocks := make([]content.Block, 0, len(m.Content))
		for _, b := range m.Content {
			blocks = append(blocks, b.Block)
		}
		out = append(out, content.RequestMessage{Role: m.Role, Content: blocks})
	}
	return out
}

func lastUserText(input content.ResolvedInput) string {
	for i := len(input.Messages) - 1; i >= 0; i-- {
		if input.Messages[i].Role != content.RoleUser {
			continue
		}
		for _, b := range input.Messages[i].Content {
			if b.Block.Type == content.BlockTypeText {
				return b.Block.Text.Text
			}
			if b.Block.Type == content.BlockTypeRawText {
				return b.Block.RawText.Value
			}
		}
	}
	return ""
}

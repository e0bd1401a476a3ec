package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/cache"
	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/provider"
	"github.com/tzrouter/gateway/internal/router"
	"github.com/tzrouter/gateway/internal/routing"
	"github.com/tzrouter/gateway/internal/variant"
)

type fakeProvider struct {
	name    string
	reply   string
	err     error
	chunks  []provider.StreamChunk
	streamErr error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Infer(ctx context.Context, req *content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &content.ProviderInferenceResponse{
		Output: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: f.reply}}},
		Usage:  content.Usage{InputTokens: 3, OutputTokens: 2},
	}, nil
}

func (f *fakeProvider) InferStream(ctx context.Context, req *content.ModelInferenceRequest) (<-chan provider.StreamChunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan provider.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func chatModel(name string, p *fakeProvider) router.Model {
	return router.Model{Name: name, Providers: []router.ProviderEntry{{Provider: p, ModelName: name}}}
}

func chatVariantFactory(model router.Model) VariantFactory {
	return func(route variant.RouteFunc, ov CallOverrides) variant.Variant {
		return &variant.ChatCompletionVariant{
			VariantName: "v1",
			Model:       model,
			Options:     MergeOptions(variant.RequestOptions{FunctionType: content.FunctionChat}, ov),
			Route:       route,
		}
	}
}

func newTestCoordinator(t *testing.T, functions map[string]FunctionConfig, models map[string]router.Model) *Coordinator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.New(client, 5*time.Minute)
	return New(functions, models, c, cache.ModeOn, content.FetchContext{}, nil, 1)
}

func textInput(text string) content.Input {
	return content.Input{Messages: []content.Message{
		{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: text}}}},
	}}
}

func TestInferByModelNameBypassesFunctions(t *testing.T) {
	p := &fakeProvider{name: "openai", reply: "hello"}
	model := chatModel("gpt-test", p)
	co := newTestCoordinator(t, nil, map[string]router.Model{"gpt-test": model})

	modelName := "gpt-test"
	resp, err := co.Infer(context.Background(), InferenceRequest{
		ModelName: &modelName,
		Input:     textInput("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Chat[0].Text.Text)
	assert.Equal(t, 1, p.calls)
}

func TestInferRejectsBothFunctionAndModelName(t *testing.T) {
	co := newTestCoordinator(t, nil, nil)
	fn := "f"
	model := "m"
	_, err := co.Infer(context.Background(), InferenceRequest{FunctionName: &fn, ModelName: &model, Input: textInput("hi")})
	require.Error(t, err)
	e, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindInvalidRequest, e.Kind)
}

func TestInferRejectsVariantNameWithoutFunctionName(t *testing.T) {
	co := newTestCoordinator(t, nil, nil)
	model := "m"
	variantName := "v"
	_, err := co.Infer(context.Background(), InferenceRequest{ModelName: &model, VariantName: &variantName, Input: textInput("hi")})
	require.Error(t, err)
}

func TestInferRejectsIncludeOriginalResponseWithStream(t *testing.T) {
	co := newTestCoordinator(t, nil, nil)
	model := "m"
	_, err := co.InferStream(context.Background(), InferenceRequest{ModelName: &model, Input: textInput("hi"), IncludeOriginalResponse: true})
	require.Error(t, err)
}

func TestInferCallsCacheOnSecondIdenticalCall(t *testing.T) {
	p := &fakeProvider{name: "openai", reply: "hello"}
	model := chatModel("gpt-test", p)
	co := newTestCoordinator(t, nil, map[string]router.Model{"gpt-test": model})

	modelName := "gpt-test"
	req := InferenceRequest{ModelName: &modelName, Input: textInput("hi")}

	_, err := co.Infer(context.Background(), req)
	require.NoError(t, err)
	_, err = co.Infer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, p.calls, "second identical call should hit cache, not the provider")
}

func TestInferUnknownModelReturnsUnknownModelError(t *testing.T) {
	co := newTestCoordinator(t, nil, nil)
	model := "does-not-exist"
	_, err := co.Infer(context.Background(), InferenceRequest{ModelName: &model, Input: textInput("hi")})
	require.Error(t, err)
	e, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindUnknownModel, e.Kind)
}

func TestInferValidatesToolCallAgainstFunctionConfig(t *testing.T) {
	toolCallProvider := &toolCallFakeProvider{name: "openai"}
	model := chatModel("gpt-tools", toolCallProvider)

	fn := FunctionConfig{
		Name: "weather",
		Type: content.FunctionChat,
		ToolConfig: &content.ToolCallConfig{
			Tools: []content.ToolDefinition{{Name: "get_weather", Schema: []byte(`{"type":"object"}`)}},
		},
		Variants: map[string]VariantDef{
			"v1": {Factory: chatVariantFactory(model), Weight: 1},
		},
	}
	co := newTestCoordinator(t, map[string]FunctionConfig{"weather": fn}, nil)

	fname := "weather"
	resp, err := co.Infer(context.Background(), InferenceRequest{FunctionName: &fname, Input: textInput("what's the weather")})
	require.NoError(t, err)
	require.Len(t, resp.Chat, 1)
	require.NotNil(t, resp.Chat[0].ToolCall)
	require.NotNil(t, resp.Chat[0].ToolCall.Name)
	assert.Equal(t, "get_weather", *resp.Chat[0].ToolCall.Name)
}

type toolCallFakeProvider struct {
	name string
}

func (f *toolCallFakeProvider) Name() string { return f.name }

func (f *toolCallFakeProvider) Infer(ctx context.Context, req *content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	return &content.ProviderInferenceResponse{
		Output: []content.OutputBlock{{
			Type:     content.BlockTypeToolCall,
			ToolCall: &content.ToolCallBlock{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Brooklyn"}`},
		}},
	}, nil
}

func (f *toolCallFakeProvider) InferStream(ctx context.Context, req *content.ModelInferenceRequest) (<-chan provider.StreamChunk, error) {
	return nil, apierror.New(apierror.KindInvalidRequest, "not implemented")
}

func TestInferStreamForwardsChunksThenDone(t *testing.T) {
	p := &fakeProvider{name: "openai", chunks: []provider.StreamChunk{
		{Blocks: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "he"}}}},
		{Blocks: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "llo"}}}, Done: true},
	}}
	model := chatModel("gpt-stream", p)
	co := newTestCoordinator(t, nil, map[string]router.Model{"gpt-stream": model})

	modelName := "gpt-stream"
	ch, err := co.InferStream(context.Background(), InferenceRequest{ModelName: &modelName, Input: textInput("hi"), Stream: true})
	require.NoError(t, err)

	var texts []string
	var sawDone bool
	for evt := range ch {
		for _, b := range evt.Blocks {
			if b.Type == content.BlockTypeText {
				texts = append(texts, b.Text.Text)
			}
		}
		if evt.Done {
			sawDone = true
		}
	}
	assert.True(t, sawDone)
	assert.Equal(t, []string{"he", "llo"}, texts)
}

func TestInferStreamRejectsBestOfN(t *testing.T) {
	p := &fakeProvider{name: "openai", reply: "a"}
	model := chatModel("gpt-test", p)

	fn := FunctionConfig{
		Name: "ensemble",
		Type: content.FunctionChat,
		Variants: map[string]VariantDef{
			"bon": {
				Weight: 1,
				Factory: func(route variant.RouteFunc, ov CallOverrides) variant.Variant {
					return &variant.BestOfNVariant{
						VariantName: "bon",
						Candidates: []variant.Variant{
							&variant.ChatCompletionVariant{VariantName: "c1", Model: model, Options: MergeOptions(variant.RequestOptions{FunctionType: content.FunctionChat}, ov), Route: route},
						},
						Judge: func(ctx context.Context, candidates []content.InferenceResult) (int, error) { return 0, nil },
					}
				},
			},
		},
	}
	co := newTestCoordinator(t, map[string]FunctionConfig{"ensemble": fn}, nil)

	fname := "ensemble"
	_, err := co.InferStream(context.Background(), InferenceRequest{FunctionName: &fname, Input: textInput("hi"), Stream: true})
	require.Error(t, err)
	e, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindInvalidRequest, e.Kind)
}

func TestSelectVariantHonorsPin(t *testing.T) {
	p1 := &fakeProvider{name: "p1", reply: "a"}
	p2 := &fakeProvider{name: "p2", reply: "b"}
	m1 := chatModel("m1", p1)
	m2 := chatModel("m2", p2)

	fn := FunctionConfig{
		Name: "f",
		Type: content.FunctionChat,
		Variants: map[string]VariantDef{
			"first":  {Factory: chatVariantFactory(m1), Weight: 1},
			"second": {Factory: chatVariantFactory(m2), Weight: 0},
		},
	}
	co := newTestCoordinator(t, map[string]FunctionConfig{"f": fn}, nil)

	fname := "f"
	vname := "second"
	resp, err := co.Infer(context.Background(), InferenceRequest{FunctionName: &fname, VariantName: &vname, Input: textInput("hi")})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Chat[0].Text.Text, "pinned variant with weight 0 must still be selectable explicitly")
}

func TestSelectVariantHonorsRoutingPolicyOverride(t *testing.T) {
	p1 := &fakeProvider{name: "p1", reply: "a"}
	p2 := &fakeProvider{name: "p2", reply: "b"}
	m1 := chatModel("m1", p1)
	m2 := chatModel("m2", p2)

	policy, err := routing.Compile(`
		if tags.tier == "premium" then
			weights.cheap = 0
		end
	`)
	require.NoError(t, err)
	defer policy.Close()

	fn := FunctionConfig{
		Name: "f",
		Type: content.FunctionChat,
		Variants: map[string]VariantDef{
			"cheap":   {Factory: chatVariantFactory(m1), Weight: 1},
			"premium": {Factory: chatVariantFactory(m2), Weight: 1},
		},
		RoutingPolicy: policy,
	}
	co := newTestCoordinator(t, map[string]FunctionConfig{"f": fn}, nil)

	fname := "f"
	resp, err := co.Infer(context.Background(), InferenceRequest{
		FunctionName: &fname,
		Input:        textInput("hi"),
		Tags:         map[string]string{"tier": "premium"},
	})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Chat[0].Text.Text, "routing policy should have zeroed out the cheap variant's weight")
}

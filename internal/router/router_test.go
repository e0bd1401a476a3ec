package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/provider"
)

// fakeProvider is a minimal Provider double for router tests.
type fakeProvider struct {
	name       string
	err        error
	resp       *content.ProviderInferenceResponse
	streamErr  error
	streamChan <-chan provider.StreamChunk
	calls      int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Infer(ctx context.Context, req *content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) InferStream(ctx context.Context, req *content.ModelInferenceRequest) (<-chan provider.StreamChunk, error) {
	f.calls++
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.streamChan, nil
}

func TestRouteFallsBackToSecondProviderOnFirstFailure(t *testing.T) {
	errProvider := &fakeProvider{name: "bad", err: apierror.New(apierror.KindInferenceServer, "boom")}
	goodResp := &content.ProviderInferenceResponse{Output: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "hi"}}}}
	goodProvider := &fakeProvider{name: "good", resp: goodResp}

	m := Model{Name: "m1", Providers: []ProviderEntry{
		{Provider: errProvider, ModelName: "m1-bad"},
		{Provider: goodProvider, ModelName: "m1-good"},
	}}

	resp, err := Route(context.Background(), m, &content.ModelInferenceRequest{})
	require.NoError(t, err)
	assert.Equal(t, "good", resp.ModelProviderName)
	assert.Equal(t, 1, errProvider.calls)
	assert.Equal(t, 1, goodProvider.calls)
}

func TestRouteExhaustsAllProvidersAndReturnsPerProviderMap(t *testing.T) {
	p1 := &fakeProvider{name: "p1", err: apierror.New(apierror.KindInferenceClient, "bad request")}
	p2 := &fakeProvider{name: "p2", err: apierror.New(apierror.KindInferenceServer, "timeout")}

	m := Model{Name: "m1", Providers: []ProviderEntry{
		{Provider: p1, ModelName: "m1-p1"},
		{Provider: p2, ModelName: "m1-p2"},
	}}

	_, err := Route(context.Background(), m, &content.ModelInferenceRequest{})
	require.Error(t, err)

	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.KindModelProvidersExhausted, apiErr.Kind)
	assert.Len(t, apiErr.ProviderErrors, 2)
	assert.Contains(t, apiErr.ProviderErrors, "p1")
	assert.Contains(t, apiErr.ProviderErrors, "p2")
}

func TestRouteUnknownModelWhenNoProviders(t *testing.T) {
	_, err := Route(context.Background(), Model{Name: "empty"}, &content.ModelInferenceRequest{})
	require.Error(t, err)
	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.KindUnknownModel, apiErr.Kind)
}

func TestRouteStreamFallsBackWhenStreamOpenFails(t *testing.T) {
	ch := make(chan provider.StreamChunk)
	close(ch)

	p1 := &fakeProvider{name: "p1", streamErr: apierror.New(apierror.KindInferenceServer, "refused")}
	p2 := &fakeProvider{name: "p2", streamChan: ch}

	m := Model{Name: "m1", Providers: []ProviderEntry{
		{Provider: p1, ModelName: "m1-p1"},
		{Provider: p2, ModelName: "m1-p2"},
	}}

	got, name, err := RouteStream(context.Background(), m, &content.ModelInferenceRequest{})
	require.NoError(t, err)
	assert.Equal(t, "p2", name)
	assert.NotNil(t, got)
}

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/content"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, 5*time.Minute)
}

func sampleFingerprint() Fingerprint {
	return Fingerprint{
		ModelName: "gpt-4o-mini",
		Messages: []content.RequestMessage{
			{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "hi"}}}},
		},
	}
}

func TestCacheMissThenHitReturnsCachedTrue(t *testing.T) {
	c := newTestCache(t)
	fp := sampleFingerprint()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, ModeOn, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	resp := content.ModelInferenceResponse{
		ProviderInferenceResponse: content.ProviderInferenceResponse{
			Output: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "hello"}}},
			Usage:  content.Usage{InputTokens: 10, OutputTokens: 5},
		},
		ModelProviderName: "openai-primary",
	}
	require.NoError(t, c.Set(ctx, ModeOn, fp, resp))

	got, ok, err := c.Get(ctx, ModeOn, fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Cached)
	assert.Equal(t, "hello", got.Output[0].Text.Text)
	assert.Equal(t, 10, got.Usage.InputTokens)
	assert.Equal(t, "openai-primary", got.ModelProviderName)
}

func TestCacheReadOnlyNeverWrites(t *testing.T) {
	c := newTestCache(t)
	fp := sampleFingerprint()
	ctx := context.Background()

	resp := content.ModelInferenceResponse{ProviderInferenceResponse: content.ProviderInferenceResponse{
		Output: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "x"}}},
	}}
	require.NoError(t, c.Set(ctx, ModeReadOnly, fp, resp))

	_, ok, err := c.Get(ctx, ModeOn, fp)
	require.NoError(t, err)
	assert.False(t, ok, "read_only mode must never write")
}

func TestCacheOffNeverReadsOrWrites(t *testing.T) {
	c := newTestCache(t)
	fp := sampleFingerprint()
	ctx := context.Background()

	resp := content.ModelInferenceResponse{ProviderInferenceResponse: content.ProviderInferenceResponse{
		Output: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "x"}}},
	}}
	require.NoError(t, c.Set(ctx, ModeOn, fp, resp))

	_, ok, err := c.Get(ctx, ModeOff, fp)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrBuildCallsBuildOnceOnMiss(t *testing.T) {
	c := newTestCache(t)
	fp := sampleFingerprint()
	calls := 0

	build := func(ctx context.Context) (content.ModelInferenceResponse, error) {
		calls++
		return content.ModelInferenceResponse{
			ProviderInferenceResponse: content.ProviderInferenceResponse{
				Output: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "built"}}},
			},
			ModelProviderName: "openai-primary",
		}, nil
	}

	resp1, err := c.GetOrBuild(context.Background(), ModeOn, fp, build)
	require.NoError(t, err)
	assert.False(t, resp1.Cached)
	assert.Equal(t, 1, calls)

	resp2, err := c.GetOrBuild(context.Background(), ModeOn, fp, build)
	require.NoError(t, err)
	assert.True(t, resp2.Cached)
	assert.Equal(t, 1, calls, "second call must hit cache, not rebuild")
}

func TestGetOrBuildPropagatesBuildError(t *testing.T) {
	c := newTestCache(t)
	fp := sampleFingerprint()

	_, err := c.GetOrBuild(context.Background(), ModeOn, fp, func(ctx context.Context) (content.ModelInferenceResponse, error) {
		return content.ModelInferenceResponse{}, errors.New("provider exhausted")
	})
	assert.Error(t, err)
}

func TestSameRequestHitsCacheRegardlessOfServingProvider(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	fp := sampleFingerprint()
	resp := content.ModelInferenceResponse{
		ProviderInferenceResponse: content.ProviderInferenceResponse{
			Output: []content.OutputBlock{{Type: content.BlockTypeText, Text: &content.TextBlock{Text: "served by fallback"}}},
		},
		ModelProviderName: "anthropic-secondary",
	}
	require.NoError(t, c.Set(ctx, ModeOn, fp, resp))

	got, ok, err := c.Get(ctx, ModeOn, sampleFingerprint())
	require.NoError(t, err)
	require.True(t, ok, "identical request shape must hit regardless of which provider served the original call")
	assert.Equal(t, "anthropic-secondary", got.ModelProviderName)
}

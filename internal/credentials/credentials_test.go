package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tzrouter/gateway/internal/apierror"
)

func TestResolveStatic(t *testing.T) {
	v, err := Resolve(Static("sk-literal"))
	require.NoError(t, err)
	assert.Equal(t, "sk-literal", v)
}

func TestResolveDynamic(t *testing.T) {
	t.Setenv("TZROUTER_TEST_KEY", "sk-from-env")
	v, err := Resolve(Dynamic("TZROUTER_TEST_KEY"))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", v)
}

func TestResolveDynamicUnsetIsMissing(t *testing.T) {
	_, err := Resolve(Dynamic("TZROUTER_DEFINITELY_UNSET_VAR"))
	require.Error(t, err)
	e, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindAPIKeyMissing, e.Kind)
}

func TestResolveMissing(t *testing.T) {
	_, err := Resolve(Missing())
	require.Error(t, err)
}

func TestResolveWithFallbackPrefersDefault(t *testing.T) {
	v, err := Resolve(WithFallback(Static("default-key"), Static("fallback-key")))
	require.NoError(t, err)
	assert.Equal(t, "default-key", v)
}

func TestResolveWithFallbackFallsBackWhenDefaultMissing(t *testing.T) {
	v, err := Resolve(WithFallback(Missing(), Static("fallback-key")))
	require.NoError(t, err)
	assert.Equal(t, "fallback-key", v)
}

func TestResolveWithFallbackChainOfMissingStillErrors(t *testing.T) {
	_, err := Resolve(WithFallback(Missing(), Missing()))
	require.Error(t, err)
}

func TestResolveMapDropsMissingEntries(t *testing.T) {
	t.Setenv("TZROUTER_MAP_KEY", "present")
	locs := map[string]Location{
		"anthropic": Dynamic("TZROUTER_MAP_KEY"),
		"bedrock":   Missing(),
	}
	out, err := ResolveMap(locs)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"anthropic": "present"}, out)
}

package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustLeavesWeightsUnchangedByDefault(t *testing.T) {
	p, err := Compile(`-- no-op: keep the configured weights as-is`)
	require.NoError(t, err)
	defer p.Close()

	out, err := p.Adjust(map[string]string{"tier": "free"}, map[string]float64{"fast": 1, "accurate": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"fast": 1, "accurate": 1}, out)
}

func TestAdjustCanExcludeAVariantByTag(t *testing.T) {
	p, err := Compile(`
		if tags.tier == "free" then
			weights.accurate = 0
		end
	`)
	require.NoError(t, err)
	defer p.Close()

	out, err := p.Adjust(map[string]string{"tier": "free"}, map[string]float64{"fast": 1, "accurate": 3})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["fast"])
	assert.Equal(t, float64(0), out["accurate"])
}

func TestAdjustOnNilPolicyReturnsInputUnchanged(t *testing.T) {
	var p *Policy
	in := map[string]float64{"a": 1}
	out, err := p.Adjust(nil, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCompileRejectsInvalidSyntax(t *testing.T) {
	_, err := Compile(`this is not lua (`)
	assert.Error(t, err)
}

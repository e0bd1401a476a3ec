package embed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanPoolAveragesPerDimension(t *testing.T) {
	hidden := []float32{
		1, 2, 3,
		3, 4, 5,
	}
	got := meanPool(hidden, 2, 3)
	assert.Equal(t, []float32{2, 3, 4}, got)
}

func TestNormalizeProducesUnitVector(t *testing.T) {
	v := normalize([]float32{3, 4})
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-5)
}

func TestNormalizeLeavesZeroVectorUnchanged(t *testing.T) {
	v := normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

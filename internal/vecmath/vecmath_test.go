package vecmath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflib/libraryd/internal/vecmath"
)

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, vecmath.CosineSimilarity(v, v), 1e-6)
}

func TestCosineSimilarity_OrthogonalVectorsIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, vecmath.CosineSimilarity(a, b), 1e-6)
}

func TestCosineSimilarity_ZeroVectorReturnsZero(t *testing.T) {
	assert.Equal(t, float32(0), vecmath.CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestL2Normalize_ProducesUnitVector(t *testing.T) {
	v := []float32{3, 4}
	normalized := vecmath.L2Normalize(v)
	assert.InDelta(t, 1.0, vecmath.EuclideanNorm(normalized), 1e-5)
}

func TestCosineSimilarityNormalized_MatchesCosineSimilarityOnNormalizedInputs(t *testing.T) {
	a := vecmath.L2Normalize([]float32{1, 2, 3})
	b := vecmath.L2Normalize([]float32{3, 1, 0})
	want := vecmath.CosineSimilarity(a, b)
	got := vecmath.CosineSimilarityNormalized(a, b)
	assert.InDelta(t, want, got, 1e-5)
}

func TestHammingDistance64(t *testing.T) {
	assert.Equal(t, 0, vecmath.HammingDistance64(0xFF, 0xFF))
	assert.Equal(t, 1, vecmath.HammingDistance64(0b0000, 0b0001))
	assert.Equal(t, 64, vecmath.HammingDistance64(0, ^uint64(0)))
}

func TestHammingSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, vecmath.HammingSimilarity(0))
	assert.Equal(t, 0.0, vecmath.HammingSimilarity(64))
	assert.InDelta(t, 0.875, vecmath.HammingSimilarity(8), 1e-9)
}

func TestClampUnit(t *testing.T) {
	assert.Equal(t, float32(0), vecmath.ClampUnit(-0.2))
	assert.Equal(t, float32(1), vecmath.ClampUnit(1.2))
	assert.Equal(t, float32(0.5), vecmath.ClampUnit(0.5))
}

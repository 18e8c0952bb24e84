package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflib/libraryd/internal/models"
)

func TestPackFloat16_RoundTripsWithinHalfPrecision(t *testing.T) {
	vec := []float32{0.1, -0.5, 0.999, -0.999, 0}
	blob, dim := PackFloat16(vec)
	assert.Negative(t, dim, "float16 packing signals via a negative dim")

	row := &models.SemanticEmbedding{Embedding: blob, Dim: dim}
	assert.True(t, row.IsFloat16())
	assert.Equal(t, len(vec), row.LogicalDim())

	got := unpack(row)
	assert.Len(t, got, len(vec))
	for i := range vec {
		assert.InDelta(t, vec[i], got[i], 1e-3)
	}
}

func TestPackFloat32_RoundTripsExactly(t *testing.T) {
	vec := []float32{1.2345, -6.789, 0, 42}
	blob, dim := PackFloat32(vec)
	assert.Positive(t, dim)

	row := &models.SemanticEmbedding{Embedding: blob, Dim: dim}
	assert.False(t, row.IsFloat16())

	got := unpack(row)
	assert.Equal(t, vec, got)
}

// Package vecmath holds the cosine-distance primitives shared by face
// clustering, photo similarity, and perceptual-hash comparison. One
// implementation, used from three packages, grounded on the
// normalize-then-dot-product sequence the teacher used for person
// re-identification.
package vecmath

import (
	"math"
	"math/bits"

	"github.com/viterin/vek"
)

// L2Normalize returns a copy of v scaled to unit length. A zero vector is
// returned unchanged (norm 0 would divide by zero).
func L2Normalize(v []float32) []float32 {
	norm := vek.Norm(v)
	if norm == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	out := make([]float32, len(v))
	inv := 1.0 / norm
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// Dot returns the dot product of a and b. Panics if len(a) != len(b),
// matching vek's contract.
func Dot(a, b []float32) float32 {
	return vek.Dot(a, b)
}

// CosineSimilarity returns the cosine similarity of a and b, assuming
// neither is pre-normalized. Returns 0 if either vector has zero norm.
func CosineSimilarity(a, b []float32) float32 {
	na := vek.Norm(a)
	nb := vek.Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return vek.Dot(a, b) / (na * nb)
}

// CosineSimilarityNormalized returns the dot product of two already
// L2-normalized vectors, i.e. their cosine similarity at zero extra
// cost — the embedding store normalizes at write time specifically so
// reads can take this fast path.
func CosineSimilarityNormalized(a, b []float32) float32 {
	return vek.Dot(a, b)
}

// ClampUnit clamps a similarity score into [0, 1], guarding against
// floating-point drift pushing a cosine value slightly outside range.
func ClampUnit(score float32) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// HammingDistance64 returns the Hamming distance between two 64-bit
// perceptual hashes.
func HammingDistance64(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// HammingSimilarity converts a Hamming distance over a 64-bit hash into
// a [0,1] similarity score (1 - normalized distance), per the "similar
// photos" stack score definition.
func HammingSimilarity(distance int) float64 {
	return 1.0 - float64(distance)/64.0
}

// EuclideanNorm returns the L2 norm of v, summed in float64.
func EuclideanNorm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

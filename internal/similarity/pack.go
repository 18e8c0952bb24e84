package similarity

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/reflib/libraryd/internal/models"
)

// unpack decodes a SemanticEmbedding's blob into a float32 slice,
// dispatching on the sign-encoded Dim column: negative means the blob is
// packed as float16 (half the storage, the default for large libraries),
// positive means plain little-endian float32.
func unpack(e *models.SemanticEmbedding) []float32 {
	dim := e.LogicalDim()
	out := make([]float32, dim)
	if e.IsFloat16() {
		for i := 0; i < dim; i++ {
			bits := binary.LittleEndian.Uint16(e.Embedding[i*2 : i*2+2])
			out[i] = float16.Frombits(bits).Float32()
		}
		return out
	}
	for i := 0; i < dim; i++ {
		bits := binary.LittleEndian.Uint32(e.Embedding[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// PackFloat16 serializes a vector as little-endian float16, returning the
// blob and the negative (float16-signaling) dim value to store alongside it.
func PackFloat16(vec []float32) (blob []byte, dim int) {
	blob = make([]byte, len(vec)*2)
	for i, v := range vec {
		bits := float16.Fromfloat32(v).Bits()
		binary.LittleEndian.PutUint16(blob[i*2:i*2+2], bits)
	}
	return blob, -len(vec)
}

// PackFloat32 serializes a vector as little-endian float32, returning the
// blob and the positive (float32-signaling) dim value to store alongside it.
func PackFloat32(vec []float32) (blob []byte, dim int) {
	blob = make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:i*4+4], math.Float32bits(v))
	}
	return blob, len(vec)
}

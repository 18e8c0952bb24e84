package faces

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/reflib/libraryd/internal/mlcontract"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
)

// persistDetections writes one face_crops row per detection in a single
// transaction, each ungrouped (branch_key NULL) and flagged low-confidence
// when below LowConfidenceThreshold rather than discarded, per spec.md
// §4.4.
func persistDetections(ctx context.Context, store *storage.Store, projectID int64, imagePath string, dets []mlcontract.FaceDetection, detectorVersion string) error {
	if len(dets) == 0 {
		return nil
	}
	return store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, d := range dets {
			crop := &models.FaceCrop{
				ProjectID:       projectID,
				ImagePath:       imagePath,
				Embedding:       packEmbedding(d.Embedding),
				Confidence:      d.Confidence,
				BBoxTop:         d.Top,
				BBoxRight:       d.Right,
				BBoxBottom:      d.Bottom,
				BBoxLeft:        d.Left,
				LowConfidence:   d.Confidence < LowConfidenceThreshold,
				DetectorVersion: detectorVersion,
			}
			if _, err := store.InsertFaceCrop(ctx, tx, crop); err != nil {
				return fmt.Errorf("insert face crop: %w", err)
			}
		}
		return nil
	})
}

// packEmbedding serializes a face embedding as little-endian float32, the
// same wire shape internal/similarity uses for semantic embeddings (dim
// is implicit in blob length / 4 here since face_crops has no separate
// dim column — every row from one detector version shares one dimension).
func packEmbedding(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(v))
	}
	return out
}

// unpackEmbedding is packEmbedding's inverse.
func unpackEmbedding(blob []byte) []float32 {
	n := len(blob) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : i*4+4]))
	}
	return out
}

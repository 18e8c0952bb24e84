package faces

import (
	"context"
	"sort"

	"github.com/reflib/libraryd/internal/storage"
	"github.com/reflib/libraryd/internal/vecmath"
)

// BranchPhoto is one ranked member of a branch's photo set.
type BranchPhoto struct {
	PhotoID          int64
	Score            float32
	IsRepresentative bool
}

// BranchPhotos implements the People UI's GetPersonPhotos(project_id,
// branch_key, threshold) contract: it ranks a branch's member photos by
// cosine similarity of each photo's best-matching face crop embedding
// against the branch representative's embedding, dropping any scoring
// below threshold (threshold <= 0 disables filtering). The
// representative photo itself always scores ~1.0, since it is compared
// against its own embedding.
func BranchPhotos(ctx context.Context, store *storage.Store, projectID int64, branchKey string, threshold float64) ([]BranchPhoto, error) {
	repBlob, err := store.BranchRepEmbedding(ctx, projectID, branchKey)
	if err != nil {
		return nil, err
	}
	var repVec []float32
	if repBlob != nil {
		repVec = unpackEmbedding(repBlob)
	}

	rows, err := store.BranchCrops(ctx, projectID, branchKey)
	if err != nil {
		return nil, err
	}

	best := make(map[int64]BranchPhoto, len(rows))
	for _, r := range rows {
		var score float32
		if repVec != nil {
			score = vecmath.CosineSimilarity(unpackEmbedding(r.Embedding), repVec)
		}
		existing, ok := best[r.PhotoID]
		if !ok || score > existing.Score {
			existing = BranchPhoto{PhotoID: r.PhotoID, Score: score}
		}
		if r.IsRepresentative {
			existing.IsRepresentative = true
		}
		best[r.PhotoID] = existing
	}

	out := make([]BranchPhoto, 0, len(best))
	for _, bp := range best {
		if threshold > 0 && float64(bp.Score) < threshold {
			continue
		}
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsRepresentative != out[j].IsRepresentative {
			return out[i].IsRepresentative
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

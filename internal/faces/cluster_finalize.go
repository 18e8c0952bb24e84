package faces

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
	"github.com/reflib/libraryd/internal/vecmath"
)

// finalizeBranches recomputes the representative crop and quality score
// for every branch touched by a clustering pass, and refreshes its
// face_branch_reps summary row.
func finalizeBranches(ctx context.Context, store *storage.Store, projectID int64, touched map[string]bool) error {
	allBranches, err := store.ListBranches(ctx, projectID)
	if err != nil {
		return fmt.Errorf("faces: list branches: %w", err)
	}
	byKey := make(map[string]*models.FaceBranch, len(allBranches))
	for _, b := range allBranches {
		byKey[b.BranchKey] = b
	}

	for branchKey := range touched {
		crops, err := store.FaceCropsByBranch(ctx, projectID, branchKey)
		if err != nil {
			return fmt.Errorf("faces: load branch %s: %w", branchKey, err)
		}
		if len(crops) == 0 {
			continue
		}

		rep := selectRepresentative(crops)
		quality, err := clusterQuality(ctx, store, projectID, branchKey, crops, allBranches)
		if err != nil {
			return fmt.Errorf("faces: score branch %s: %w", branchKey, err)
		}

		if err := store.WithTx(ctx, func(tx *sql.Tx) error {
			if err := store.SetRepresentativeCrop(ctx, tx, projectID, branchKey, rep.ID); err != nil {
				return err
			}
			existing := byKey[branchKey]
			var label *string
			if existing != nil {
				label = existing.Label
			}
			return store.UpsertBranchRep(ctx, tx, &models.FaceBranch{
				ProjectID:    projectID,
				BranchKey:    branchKey,
				Label:        label,
				Count:        len(crops),
				RepPath:      rep.CropPath,
				QualityScore: quality,
			})
		}); err != nil {
			return fmt.Errorf("faces: finalize branch %s: %w", branchKey, err)
		}
	}
	return nil
}

// selectRepresentative picks the crop with the highest confidence*area,
// tie-broken by lowest id, per spec.md §4.4.
func selectRepresentative(crops []*models.FaceCrop) *models.FaceCrop {
	best := crops[0]
	bestScore := best.Confidence * best.Area()
	for _, c := range crops[1:] {
		score := c.Confidence * c.Area()
		if score > bestScore || (score == bestScore && c.ID < best.ID) {
			best = c
			bestScore = score
		}
	}
	return best
}

// clusterQuality computes mean intra-cluster cosine similarity minus the
// maximum inter-cluster centroid overlap, per spec.md §4.4.
func clusterQuality(ctx context.Context, store *storage.Store, projectID int64, branchKey string, crops []*models.FaceCrop, allBranches []*models.FaceBranch) (float64, error) {
	vecs := make([][]float32, 0, len(crops))
	for _, c := range crops {
		if len(c.Embedding) == 0 {
			continue
		}
		vecs = append(vecs, vecmath.L2Normalize(unpackEmbedding(c.Embedding)))
	}
	if len(vecs) == 0 {
		return 0, nil
	}

	var sim float64
	var pairs int
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sim += float64(vecmath.CosineSimilarityNormalized(vecs[i], vecs[j]))
			pairs++
		}
	}
	meanIntra := 1.0
	if pairs > 0 {
		meanIntra = sim / float64(pairs)
	}

	centroid := centroidOf(vecs)
	maxInter := 0.0
	for _, b := range allBranches {
		if b.BranchKey == branchKey {
			continue
		}
		siblingCrops, err := store.FaceCropsByBranch(ctx, projectID, b.BranchKey)
		if err != nil {
			return 0, fmt.Errorf("load sibling branch %s: %w", b.BranchKey, err)
		}
		siblingVecs := make([][]float32, 0, len(siblingCrops))
		for _, c := range siblingCrops {
			if len(c.Embedding) == 0 {
				continue
			}
			siblingVecs = append(siblingVecs, vecmath.L2Normalize(unpackEmbedding(c.Embedding)))
		}
		if len(siblingVecs) == 0 {
			continue
		}
		overlap := float64(vecmath.CosineSimilarityNormalized(centroid, centroidOf(siblingVecs)))
		if overlap > maxInter {
			maxInter = overlap
		}
	}
	return meanIntra - maxInter, nil
}

func centroidOf(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	sum := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			sum[i] += x
		}
	}
	for i := range sum {
		sum[i] /= float32(len(vecs))
	}
	return vecmath.L2Normalize(sum)
}

// pruneStaleGroups deletes branches that lost every member and flags any
// person group referencing them as stale, per spec.md §4.4's
// post-clustering cleanup pass.
func pruneStaleGroups(ctx context.Context, store *storage.Store, projectID int64) error {
	branches, err := store.ListBranches(ctx, projectID)
	if err != nil {
		return fmt.Errorf("faces: list branches: %w", err)
	}
	for _, b := range branches {
		n, err := store.BranchMemberCount(ctx, projectID, b.BranchKey)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if err := store.MarkGroupsStaleForBranch(ctx, projectID, b.BranchKey); err != nil {
			return err
		}
		if err := store.DeleteBranch(ctx, projectID, b.BranchKey); err != nil {
			return err
		}
	}
	return nil
}

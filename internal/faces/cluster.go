package faces

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/actions"
	"github.com/reflib/libraryd/internal/jobs"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
	"github.com/reflib/libraryd/internal/vecmath"
)

const (
	// DefaultEps is the DBSCAN neighbourhood radius in cosine distance
	// (1 - cosine similarity), spec.md §4.4's default.
	DefaultEps = 0.35
	// DefaultMinSamples is the DBSCAN density threshold, spec.md §4.4's
	// default.
	DefaultMinSamples = 3
)

// NewClusterHandler builds the jobs.Handler for models.KindFacesCluster:
// DBSCAN over every unclustered, embedded face crop in the project,
// honouring existing manual_* branches as must-link anchors, followed by
// representative selection, quality scoring, and stale-branch cleanup.
func NewClusterHandler(store *storage.Store, dispatch *actions.Store, log *zap.SugaredLogger) jobs.Handler {
	return func(ctx context.Context, run *jobs.Runner, job *models.MLJob) error {
		project, err := store.GetProject(ctx, job.ProjectID)
		if err != nil {
			return fmt.Errorf("faces: load project: %w", err)
		}
		eps := project.ClusterEps
		if eps <= 0 {
			eps = DefaultEps
		}
		minSamples := project.ClusterMinSamples
		if minSamples <= 0 {
			minSamples = DefaultMinSamples
		}

		crops, err := store.UnclusteredFaceCrops(ctx, job.ProjectID)
		if err != nil {
			return fmt.Errorf("faces: load crops: %w", err)
		}
		var candidates []*models.FaceCrop
		vecs := make(map[int64][]float32, len(crops))
		for _, c := range crops {
			if len(c.Embedding) == 0 {
				continue
			}
			candidates = append(candidates, c)
			vecs[c.ID] = vecmath.L2Normalize(unpackEmbedding(c.Embedding))
		}
		if len(candidates) == 0 {
			dispatch.Dispatch(actions.FacesCompleted{Meta: dispatch.MakeMeta("faces_cluster"), JobID: job.ID})
			return nil
		}

		branches, err := store.ListBranches(ctx, job.ProjectID)
		if err != nil {
			return fmt.Errorf("faces: list branches: %w", err)
		}

		remaining, mustLink, err := applyMustLink(ctx, store, job.ProjectID, candidates, vecs, branches, eps)
		if err != nil {
			return err
		}

		clusters := dbscan(remaining, vecs, eps, minSamples)

		nextNum, err := nextBranchNumber(branches)
		if err != nil {
			return err
		}

		touchedBranches := make(map[string]bool)
		clusteredCount := 0
		if err := store.WithTx(ctx, func(tx *sql.Tx) error {
			for branchKey, ids := range mustLink {
				if err := store.AssignBranch(ctx, tx, job.ProjectID, ids, branchKey); err != nil {
					return err
				}
				touchedBranches[branchKey] = true
				clusteredCount += len(ids)
			}
			for _, ids := range clusters {
				if len(ids) < minSamples {
					continue // DBSCAN noise, left unclustered for the next run
				}
				branchKey := fmt.Sprintf("face_%03d", nextNum)
				nextNum++
				if err := store.AssignBranch(ctx, tx, job.ProjectID, ids, branchKey); err != nil {
					return err
				}
				touchedBranches[branchKey] = true
				clusteredCount += len(ids)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("faces: assign branches: %w", err)
		}

		if err := finalizeBranches(ctx, store, job.ProjectID, touchedBranches); err != nil {
			return err
		}
		if err := pruneStaleGroups(ctx, store, job.ProjectID); err != nil {
			return err
		}

		dispatch.Dispatch(actions.FacesCompleted{
			Meta:      dispatch.MakeMeta("faces_cluster"),
			JobID:     job.ID,
			Clustered: int64(clusteredCount),
		})
		return nil
	}
}

// applyMustLink assigns candidates that fall within eps of an existing
// manual branch's representative embedding directly to that branch,
// honouring manual labels as must-link constraints rather than letting
// density clustering potentially split them off. It returns the
// remaining (unassigned) candidates plus a branchKey -> crop-id map for
// the assignments made.
func applyMustLink(ctx context.Context, store *storage.Store, projectID int64, candidates []*models.FaceCrop, vecs map[int64][]float32, branches []*models.FaceBranch, eps float64) ([]*models.FaceCrop, map[string][]int64, error) {
	mustLink := make(map[string][]int64)

	type anchor struct {
		branchKey string
		vec       []float32
	}
	var anchors []anchor
	for _, b := range branches {
		if !b.IsManual() {
			continue
		}
		reps, err := store.FaceCropsByBranch(ctx, projectID, b.BranchKey)
		if err != nil {
			return nil, nil, fmt.Errorf("faces: load manual branch %s: %w", b.BranchKey, err)
		}
		for _, r := range reps {
			if r.IsRepresentative && len(r.Embedding) > 0 {
				anchors = append(anchors, anchor{branchKey: b.BranchKey, vec: vecmath.L2Normalize(unpackEmbedding(r.Embedding))})
				break
			}
		}
	}
	if len(anchors) == 0 {
		return candidates, mustLink, nil
	}

	var remaining []*models.FaceCrop
	for _, c := range candidates {
		v := vecs[c.ID]
		assigned := false
		for _, a := range anchors {
			if 1-float64(vecmath.CosineSimilarityNormalized(v, a.vec)) <= eps {
				mustLink[a.branchKey] = append(mustLink[a.branchKey], c.ID)
				assigned = true
				break
			}
		}
		if !assigned {
			remaining = append(remaining, c)
		}
	}
	return remaining, mustLink, nil
}

// dbscan clusters crops by cosine distance. Returns groups of crop ids;
// groups smaller than minSamples are noise and left for the caller to
// decide (here: left unassigned for a future run once more photos land
// nearby).
func dbscan(crops []*models.FaceCrop, vecs map[int64][]float32, eps float64, minSamples int) [][]int64 {
	n := len(crops)
	visited := make([]bool, n)
	clustered := make([]bool, n)
	var clusters [][]int64

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if 1-float64(vecmath.CosineSimilarityNormalized(vecs[crops[i].ID], vecs[crops[j].ID])) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		nbrs := neighbors(i)
		if len(nbrs)+1 < minSamples {
			continue // noise, for now
		}
		cluster := []int{i}
		clustered[i] = true
		queue := append([]int{}, nbrs...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if !visited[j] {
				visited[j] = true
				jn := neighbors(j)
				if len(jn)+1 >= minSamples {
					queue = append(queue, jn...)
				}
			}
			if !clustered[j] {
				clustered[j] = true
				cluster = append(cluster, j)
			}
		}
		ids := make([]int64, len(cluster))
		for k, idx := range cluster {
			ids[k] = crops[idx].ID
		}
		clusters = append(clusters, ids)
	}
	return clusters
}

// nextBranchNumber scans existing face_NNN branches for the highest
// suffix and returns the next monotonic value.
func nextBranchNumber(branches []*models.FaceBranch) (int, error) {
	max := 0
	for _, b := range branches {
		if !strings.HasPrefix(b.BranchKey, "face_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(b.BranchKey, "face_"))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

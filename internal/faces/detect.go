// Package faces implements the three-stage face pipeline: detection,
// embedding, and DBSCAN-style clustering into named branches (spec.md
// §4.4). Grounded on the teacher's appearance-matching idiom — a
// running average of features per identity, a distance-plus-attribute
// combined score, a merge operation for colliding identities —
// generalized from an in-memory, per-video heuristic matcher into a
// restart-safe, storage-backed clustering pass over real detector
// embeddings instead of a vision-model-described feature guess.
package faces

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/actions"
	"github.com/reflib/libraryd/internal/jobs"
	"github.com/reflib/libraryd/internal/mlcontract"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
)

// LowConfidenceThreshold marks a detection as low-confidence without
// discarding it, per spec.md §4.4.
const LowConfidenceThreshold = 0.5

// NewDetectHandler builds the jobs.Handler for models.KindFacesDetect.
// For each photo in the resolved scope it runs the detector once,
// obtaining bbox+confidence+embedding per face in a single pass (the
// canonical case where embedding is merged into detection), and persists
// one ungrouped face_crops row per detection.
func NewDetectHandler(store *storage.Store, detector mlcontract.Detector, dispatch *actions.Store, log *zap.SugaredLogger) jobs.Handler {
	return func(ctx context.Context, run *jobs.Runner, job *models.MLJob) error {
		var cfg models.FacesDetectConfig
		if err := job.Config(&cfg); err != nil {
			return fmt.Errorf("faces: decode config: %w", err)
		}

		photoIDs, err := store.ResolvePhotoScope(ctx, job.ProjectID, cfg.Scope)
		if err != nil {
			return fmt.Errorf("faces: resolve scope: %w", err)
		}

		var detected int64
		for i, photoID := range photoIDs {
			if run.ShouldCancel() {
				return nil
			}
			if i < int(job.CheckpointID) {
				continue // already processed before a restart
			}

			photo, err := store.GetPhotoMeta(ctx, photoID)
			if err != nil {
				log.Warnw("faces: load photo", "photo_id", photoID, "error", err)
				continue
			}
			if photo.FacesStatus == "done" {
				existingVersion, err := store.PhotoDetectorVersion(ctx, job.ProjectID, photo.Path)
				if err != nil {
					return fmt.Errorf("faces: check detector version for photo %d: %w", photoID, err)
				}
				if existingVersion == detector.Version() {
					continue // idempotent: (path, mtime, detector_version) all match a previous run
				}
				// detector was upgraded since this photo was last processed;
				// drop the stale crops and re-detect below.
				if err := store.DeleteFaceCropsForPhoto(ctx, job.ProjectID, photo.Path); err != nil {
					return fmt.Errorf("faces: clear stale crops for photo %d: %w", photoID, err)
				}
			}

			dets, err := detector.DetectFaces(ctx, photo.Path)
			if err != nil {
				log.Warnw("faces: detect failed", "photo_id", photoID, "path", photo.Path, "error", err)
				if err := store.SetFacesStatus(ctx, photoID, "skipped"); err != nil {
					return err
				}
				continue
			}

			if err := persistDetections(ctx, store, job.ProjectID, photo.Path, dets, detector.Version()); err != nil {
				return fmt.Errorf("faces: persist detections for photo %d: %w", photoID, err)
			}
			detected += int64(len(dets))

			if err := store.SetFacesStatus(ctx, photoID, "done"); err != nil {
				return err
			}
			if err := run.Progress(ctx, int64(i+1), int64(len(photoIDs)), int64(i+1)); err != nil {
				return err
			}
		}

		log.Infow("faces: detection complete", "project_id", job.ProjectID, "detected", detected)
		dispatch.Dispatch(actions.FacesCompleted{
			Meta:     dispatch.MakeMeta("faces_detect"),
			JobID:    job.ID,
			Detected: detected,
		})
		return nil
	}
}

package faces

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/actions"
	"github.com/reflib/libraryd/internal/jobs"
	"github.com/reflib/libraryd/internal/mlcontract"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
)

// NewEmbedHandler builds the jobs.Handler for models.KindFacesEmbed. This
// stage only does work when a Detector implementation does not return
// embeddings inline with detection (the canonical path, handled in
// NewDetectHandler, leaves nothing for this stage to do): it re-runs
// detection on each crop's source image and matches the closest
// bounding box by overlap, the same correlation problem a detector-only
// backend forces on any re-embed pass.
func NewEmbedHandler(store *storage.Store, detector mlcontract.Detector, dispatch *actions.Store, log *zap.SugaredLogger) jobs.Handler {
	return func(ctx context.Context, run *jobs.Runner, job *models.MLJob) error {
		crops, err := store.UnclusteredFaceCrops(ctx, job.ProjectID)
		if err != nil {
			return fmt.Errorf("faces: load crops: %w", err)
		}

		pending := make([]*models.FaceCrop, 0, len(crops))
		for _, c := range crops {
			if len(c.Embedding) == 0 {
				pending = append(pending, c)
			}
		}

		byPath := make(map[string][]*models.FaceCrop)
		for _, c := range pending {
			byPath[c.ImagePath] = append(byPath[c.ImagePath], c)
		}

		var embedded int64
		i := 0
		for path, group := range byPath {
			if run.ShouldCancel() {
				return nil
			}
			dets, err := detector.DetectFaces(ctx, path)
			if err != nil {
				log.Warnw("faces: re-detect for embed failed", "path", path, "error", err)
				i++
				continue
			}
			if err := store.WithTx(ctx, func(tx *sql.Tx) error {
				for _, crop := range group {
					best := closestDetection(crop, dets)
					if best == nil || len(best.Embedding) == 0 {
						continue
					}
					if _, err := tx.ExecContext(ctx, `UPDATE face_crops SET embedding = ? WHERE id = ?`, packEmbedding(best.Embedding), crop.ID); err != nil {
						return err
					}
					embedded++
				}
				return nil
			}); err != nil {
				return fmt.Errorf("faces: persist embeddings for %q: %w", path, err)
			}
			i++
			if err := run.Progress(ctx, int64(i), int64(len(byPath)), 0); err != nil {
				return err
			}
		}

		dispatch.Dispatch(actions.FacesCompleted{
			Meta:     dispatch.MakeMeta("faces_embed"),
			JobID:    job.ID,
			Detected: embedded,
		})
		return nil
	}
}

// closestDetection returns the detection whose bounding box overlaps
// crop's stored box the most (by intersection-over-union), the
// correlation heuristic for reattaching a freshly computed embedding to
// the crop row it belongs to.
func closestDetection(crop *models.FaceCrop, dets []mlcontract.FaceDetection) *mlcontract.FaceDetection {
	var best *mlcontract.FaceDetection
	bestIoU := 0.0
	for i := range dets {
		iou := boxIoU(crop.BBoxLeft, crop.BBoxTop, crop.BBoxRight, crop.BBoxBottom,
			dets[i].Left, dets[i].Top, dets[i].Right, dets[i].Bottom)
		if iou > bestIoU {
			bestIoU = iou
			best = &dets[i]
		}
	}
	if bestIoU <= 0 {
		return nil
	}
	return best
}

func boxIoU(l1, t1, r1, b1, l2, t2, r2, b2 float64) float64 {
	interLeft := max64(l1, l2)
	interTop := max64(t1, t2)
	interRight := min64(r1, r2)
	interBottom := min64(b1, b2)
	if interRight <= interLeft || interBottom <= interTop {
		return 0
	}
	inter := (interRight - interLeft) * (interBottom - interTop)
	area1 := (r1 - l1) * (b1 - t1)
	area2 := (r2 - l2) * (b2 - t2)
	union := area1 + area2 - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

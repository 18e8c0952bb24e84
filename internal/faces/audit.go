package faces

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/storage"
)

// AuditCorruptPaths scans a project's face_crops for the historical bug
// (grounded on original_source/scripts/audit_face_crops_corruption.py)
// where image_path was written as a derived crop path instead of the
// original photo's path. For each corrupt row it tries to recover the
// original path from the crop filename's "{basename}_face{N}{ext}"
// pattern and repairs the row if that photo still exists; otherwise it
// quarantines the row (branch_key cleared) so it is excluded from
// clustering and person listings instead of silently poisoning them.
func AuditCorruptPaths(ctx context.Context, store *storage.Store, projectID int64, log *zap.SugaredLogger) (repaired, quarantined int, err error) {
	rows, err := store.CorruptCropPaths(ctx, projectID)
	if err != nil {
		return 0, 0, err
	}

	for _, row := range rows {
		original, ok := recoverOriginalPath(ctx, store, projectID, row.CropPath)
		if ok {
			if err := store.RepairCropImagePath(ctx, row.ID, original); err != nil {
				return repaired, quarantined, err
			}
			repaired++
			log.Infow("faces: repaired corrupt crop image_path", "crop_id", row.ID, "original_path", original)
			continue
		}
		if err := store.QuarantineCrop(ctx, row.ID); err != nil {
			return repaired, quarantined, err
		}
		quarantined++
		log.Warnw("faces: quarantined unrecoverable crop", "crop_id", row.ID, "image_path", row.ImagePath, "crop_path", row.CropPath)
	}
	return repaired, quarantined, nil
}

// recoverOriginalPath strips a crop filename's "_faceN" suffix to recover
// the candidate original basename, then looks for a live photo_metadata
// row matching it and confirms the file is still present on disk.
func recoverOriginalPath(ctx context.Context, store *storage.Store, projectID int64, cropPath string) (string, bool) {
	if cropPath == "" {
		return "", false
	}
	base := filepath.Base(cropPath)
	idx := strings.Index(base, "_face")
	if idx <= 0 {
		return "", false
	}
	candidate := base[:idx]

	path, found, err := store.FindPhotoPathLike(ctx, projectID, "%"+candidate+"%")
	if err != nil || !found {
		return "", false
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return "", false
	}
	return path, true
}

// PruneOrphanedManualCrops deletes face_crops assigned to a manual_*
// branch whose face_branch_reps summary row is missing, grounded on
// original_source/cleanup_corrupted_faces.py: such a crop can never
// resolve to a named person and otherwise lingers in the table forever.
func PruneOrphanedManualCrops(ctx context.Context, store *storage.Store, projectID int64, log *zap.SugaredLogger) (int, error) {
	ids, err := store.OrphanedManualCrops(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := store.DeleteFaceCrops(ctx, ids); err != nil {
		return 0, err
	}
	log.Infow("faces: pruned orphaned manual face crops", "project_id", projectID, "count", len(ids))
	return len(ids), nil
}

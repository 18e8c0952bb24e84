package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reflib/libraryd/internal/models"
)

// InsertFaceCrop records one detection. branch_key is nil until the
// clustering pass assigns it.
func (s *Store) InsertFaceCrop(ctx context.Context, tx *sql.Tx, f *models.FaceCrop) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO face_crops (
			project_id, branch_key, image_path, crop_path, embedding, confidence,
			bbox_top, bbox_right, bbox_bottom, bbox_left, is_representative,
			low_confidence, detector_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ProjectID, f.BranchKey, f.ImagePath, f.CropPath, f.Embedding, f.Confidence,
		f.BBoxTop, f.BBoxRight, f.BBoxBottom, f.BBoxLeft, f.IsRepresentative,
		f.LowConfidence, f.DetectorVersion)
	if err != nil {
		return 0, fmt.Errorf("insert face crop: %w", err)
	}
	return res.LastInsertId()
}

// UnclusteredFaceCrops returns every face crop for a project not yet
// assigned to a branch, the input set to the clustering job.
func (s *Store) UnclusteredFaceCrops(ctx context.Context, projectID int64) ([]*models.FaceCrop, error) {
	return s.queryFaceCrops(ctx, `
		SELECT id, project_id, branch_key, image_path, crop_path, embedding, confidence,
		       bbox_top, bbox_right, bbox_bottom, bbox_left, is_representative, low_confidence, detector_version
		FROM face_crops WHERE project_id = ? AND branch_key IS NULL
	`, projectID)
}

// FaceCropsByBranch returns every crop assigned to branchKey, representative
// crops first.
func (s *Store) FaceCropsByBranch(ctx context.Context, projectID int64, branchKey string) ([]*models.FaceCrop, error) {
	return s.queryFaceCrops(ctx, `
		SELECT id, project_id, branch_key, image_path, crop_path, embedding, confidence,
		       bbox_top, bbox_right, bbox_bottom, bbox_left, is_representative, low_confidence, detector_version
		FROM face_crops WHERE project_id = ? AND branch_key = ?
		ORDER BY is_representative DESC, id
	`, projectID, branchKey)
}

func (s *Store) queryFaceCrops(ctx context.Context, query string, args ...interface{}) ([]*models.FaceCrop, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query face crops: %w", err)
	}
	defer rows.Close()

	var out []*models.FaceCrop
	for rows.Next() {
		f := &models.FaceCrop{}
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.BranchKey, &f.ImagePath, &f.CropPath, &f.Embedding,
			&f.Confidence, &f.BBoxTop, &f.BBoxRight, &f.BBoxBottom, &f.BBoxLeft,
			&f.IsRepresentative, &f.LowConfidence, &f.DetectorVersion); err != nil {
			return nil, fmt.Errorf("scan face crop: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AssignBranch moves a batch of face crop ids onto branchKey, clearing
// is_representative on all of them (caller re-marks the chosen one).
func (s *Store) AssignBranch(ctx context.Context, tx *sql.Tx, projectID int64, cropIDs []int64, branchKey string) error {
	for _, id := range cropIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE face_crops SET branch_key = ?, is_representative = 0 WHERE id = ? AND project_id = ?
		`, branchKey, id, projectID); err != nil {
			return fmt.Errorf("assign branch: %w", err)
		}
	}
	return nil
}

// SetRepresentativeCrop marks cropID as the sole representative for its
// branch.
func (s *Store) SetRepresentativeCrop(ctx context.Context, tx *sql.Tx, projectID int64, branchKey string, cropID int64) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE face_crops SET is_representative = 0 WHERE project_id = ? AND branch_key = ?
	`, projectID, branchKey); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE face_crops SET is_representative = 1 WHERE id = ?`, cropID)
	return err
}

// UpsertBranchRep writes or refreshes the face_branch_reps summary row
// (display metadata, quality score) for a branch.
func (s *Store) UpsertBranchRep(ctx context.Context, tx *sql.Tx, b *models.FaceBranch) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO face_branch_reps (project_id, branch_key, label, count, rep_path, rep_thumb_png, quality_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, branch_key) DO UPDATE SET
			count = excluded.count,
			rep_path = excluded.rep_path,
			rep_thumb_png = excluded.rep_thumb_png,
			quality_score = excluded.quality_score
	`, b.ProjectID, b.BranchKey, b.Label, b.Count, b.RepPath, b.RepThumbPNG, b.QualityScore)
	if err != nil {
		return fmt.Errorf("upsert branch rep: %w", err)
	}
	return nil
}

// LabelBranch sets (or clears, with label == nil) a branch's user-facing
// display name without touching clustering-derived fields.
func (s *Store) LabelBranch(ctx context.Context, projectID int64, branchKey string, label *string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE face_branch_reps SET label = ? WHERE project_id = ? AND branch_key = ?
		`, label, projectID, branchKey)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("branch %s not found in project %d", branchKey, projectID)
		}
		return nil
	})
}

// ListBranches returns every branch for a project, COALESCE(label,
// branch_key) display name applied by FaceBranch.DisplayName at read time.
func (s *Store) ListBranches(ctx context.Context, projectID int64) ([]*models.FaceBranch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, branch_key, label, count, rep_path, rep_thumb_png, quality_score
		FROM face_branch_reps WHERE project_id = ? ORDER BY count DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var out []*models.FaceBranch
	for rows.Next() {
		b := &models.FaceBranch{}
		if err := rows.Scan(&b.ProjectID, &b.BranchKey, &b.Label, &b.Count, &b.RepPath, &b.RepThumbPNG, &b.QualityScore); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BranchCropRow is one face_crops row carrying branchKey, joined to its
// owning photo. internal/faces.BranchPhotos scores these against the
// branch's representative embedding; this layer only surfaces the raw
// rows since embedding comparison is a vecmath concern, not a SQL one.
type BranchCropRow struct {
	PhotoID          int64
	Embedding        []byte
	IsRepresentative bool
}

// BranchCrops returns every face_crops row assigned to branchKey
// together with the photo it belongs to. A photo with more than one
// crop in the same branch (the same person appearing twice in one
// frame) yields one row per crop; the caller picks the best-scoring
// one per photo.
func (s *Store) BranchCrops(ctx context.Context, projectID int64, branchKey string) ([]BranchCropRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pm.id, fc.embedding, fc.is_representative
		FROM face_crops fc
		JOIN photo_metadata pm ON pm.path = fc.image_path AND pm.project_id = fc.project_id
		WHERE fc.project_id = ? AND fc.branch_key = ?
	`, projectID, branchKey)
	if err != nil {
		return nil, fmt.Errorf("branch crops: %w", err)
	}
	defer rows.Close()

	var out []BranchCropRow
	for rows.Next() {
		var r BranchCropRow
		if err := rows.Scan(&r.PhotoID, &r.Embedding, &r.IsRepresentative); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BranchRepEmbedding returns the packed embedding of branchKey's
// representative crop, or nil if the branch has no representative set
// yet (a branch that hasn't been through finalizeBranches).
func (s *Store) BranchRepEmbedding(ctx context.Context, projectID int64, branchKey string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT embedding FROM face_crops WHERE project_id = ? AND branch_key = ? AND is_representative = 1 LIMIT 1
	`, projectID, branchKey).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("branch rep embedding: %w", err)
	}
	return blob, nil
}

// CropPathRow is one face_crops row whose image_path wrote a crop-store
// path into what should be the original photo's path, the corruption
// internal/faces.AuditCorruptPaths repairs or quarantines.
type CropPathRow struct {
	ID        int64
	ImagePath string
	CropPath  string
}

// CorruptCropPaths returns every face_crops row in the project whose
// image_path contains the crop-store path segment instead of pointing at
// an original photo.
func (s *Store) CorruptCropPaths(ctx context.Context, projectID int64) ([]CropPathRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, image_path, crop_path FROM face_crops
		WHERE project_id = ? AND image_path LIKE '%/.face_crops/%'
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("corrupt crop paths: %w", err)
	}
	defer rows.Close()

	var out []CropPathRow
	for rows.Next() {
		var r CropPathRow
		if err := rows.Scan(&r.ID, &r.ImagePath, &r.CropPath); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindPhotoPathLike returns a photo_metadata path in the project matching
// the SQL LIKE pattern, used to recover a corrupt face_crops.image_path
// from a candidate basename stripped off its crop filename.
func (s *Store) FindPhotoPathLike(ctx context.Context, projectID int64, likePattern string) (string, bool, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `
		SELECT path FROM photo_metadata WHERE project_id = ? AND path LIKE ? LIMIT 1
	`, projectID, likePattern).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find photo path like: %w", err)
	}
	return path, true, nil
}

// RepairCropImagePath overwrites a corrupt face_crops.image_path with the
// original photo path recovered by AuditCorruptPaths.
func (s *Store) RepairCropImagePath(ctx context.Context, cropID int64, originalPath string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE face_crops SET image_path = ? WHERE id = ?`, originalPath, cropID)
	if err != nil {
		return fmt.Errorf("repair crop image path: %w", err)
	}
	return nil
}

// QuarantineCrop clears a face_crops row's branch_key so it is excluded
// from clustering and person listings, used by AuditCorruptPaths when the
// original photo can't be recovered.
func (s *Store) QuarantineCrop(ctx context.Context, cropID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE face_crops SET branch_key = NULL, is_representative = 0 WHERE id = ?`, cropID)
	if err != nil {
		return fmt.Errorf("quarantine crop: %w", err)
	}
	return nil
}

// OrphanedManualCrops returns ids of face_crops assigned to a manual_*
// branch (created by hand in the Face Quality Dashboard) whose
// face_branch_reps row was never written or was since deleted, leaving a
// crop that can never resolve to a named person. Grounded on
// original_source/cleanup_corrupted_faces.py's "branch_key LIKE
// 'manual_%' AND no matching face_branch_reps row" condition.
func (s *Store) OrphanedManualCrops(ctx context.Context, projectID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fc.id FROM face_crops fc
		WHERE fc.project_id = ? AND fc.branch_key LIKE 'manual_%' AND NOT EXISTS (
			SELECT 1 FROM face_branch_reps fbr
			WHERE fbr.project_id = fc.project_id AND fbr.branch_key = fc.branch_key
		)
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("orphaned manual crops: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteFaceCrops removes the given crop ids outright, used by
// internal/faces.PruneOrphanedManualCrops once OrphanedManualCrops
// confirms they can never resolve to a named person.
func (s *Store) DeleteFaceCrops(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM face_crops WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// PhotoDetectorVersion returns the detector_version recorded on imagePath's
// existing face_crops rows, or "" if the photo has none yet. All crops for
// one image are written by a single detection pass (see persistDetections),
// so the first row's version represents the whole photo.
func (s *Store) PhotoDetectorVersion(ctx context.Context, projectID int64, imagePath string) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `
		SELECT detector_version FROM face_crops WHERE project_id = ? AND image_path = ? LIMIT 1
	`, projectID, imagePath).Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("photo detector version: %w", err)
	}
	return version, nil
}

// DeleteFaceCropsForPhoto removes every face_crops row for imagePath, used
// to clear stale detections before re-running detection at a new detector
// version.
func (s *Store) DeleteFaceCropsForPhoto(ctx context.Context, projectID int64, imagePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM face_crops WHERE project_id = ? AND image_path = ?`, projectID, imagePath)
	if err != nil {
		return fmt.Errorf("delete face crops for photo: %w", err)
	}
	return nil
}

// BranchMemberCount returns how many face_crops currently carry branchKey.
func (s *Store) BranchMemberCount(ctx context.Context, projectID int64, branchKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM face_crops WHERE project_id = ? AND branch_key = ?`, projectID, branchKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("branch member count: %w", err)
	}
	return n, nil
}

// DeleteBranch removes a branch's face_branch_reps summary row, used when
// clustering finds it has lost every member.
func (s *Store) DeleteBranch(ctx context.Context, projectID int64, branchKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM face_branch_reps WHERE project_id = ? AND branch_key = ?`, projectID, branchKey)
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/reflib/libraryd/internal/models"
)

// UpsertFolder inserts the folder if absent, returning its id either way.
// Folders are global nodes shared across projects; parentID may be nil
// for roots.
func (s *Store) UpsertFolder(ctx context.Context, tx *sql.Tx, parentID *int64, path, name string) (int64, error) {
	var id int64
	if parentID == nil {
		err := tx.QueryRowContext(ctx, `SELECT id FROM photo_folders WHERE parent_id IS NULL AND name = ?`, name).Scan(&id)
		if err == nil {
			return id, nil
		} else if err != sql.ErrNoRows {
			return 0, fmt.Errorf("resolve folder id: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO photo_folders (parent_id, path, name) VALUES (?, ?, ?)
		ON CONFLICT(parent_id, name) DO UPDATE SET path = excluded.path
	`, parentID, path, name)
	if err != nil {
		return 0, fmt.Errorf("upsert folder: %w", err)
	}
	var row *sql.Row
	if parentID == nil {
		row = tx.QueryRowContext(ctx, `SELECT id FROM photo_folders WHERE parent_id IS NULL AND name = ?`, name)
	} else {
		row = tx.QueryRowContext(ctx, `SELECT id FROM photo_folders WHERE parent_id = ? AND name = ?`, *parentID, name)
	}
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve folder id: %w", err)
	}
	return id, nil
}

// UpsertPhoto inserts or refreshes a photo_metadata row keyed on
// (path, project_id). Returns the row id.
func (s *Store) UpsertPhoto(ctx context.Context, tx *sql.Tx, p *models.PhotoMetadata) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO photo_metadata (
			path, folder_id, project_id, size_kb, modified, date_taken,
			created_ts, created_year, created_month, created_day, width, height, missing
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(path, project_id) DO UPDATE SET
			folder_id = excluded.folder_id,
			size_kb = excluded.size_kb,
			modified = excluded.modified,
			date_taken = excluded.date_taken,
			width = excluded.width,
			height = excluded.height,
			missing = 0
	`, p.Path, p.FolderID, p.ProjectID, p.SizeKB, p.Modified, p.DateTaken,
		p.CreatedTS, p.CreatedYear, p.CreatedMonth, p.CreatedDay, p.Width, p.Height)
	if err != nil {
		return 0, fmt.Errorf("upsert photo: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM photo_metadata WHERE path = ? AND project_id = ?`, p.Path, p.ProjectID).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve photo id: %w", err)
	}
	return id, nil
}

// UpsertVideo inserts or refreshes a video_metadata row keyed on
// (path, project_id). Returns the row id.
func (s *Store) UpsertVideo(ctx context.Context, tx *sql.Tx, v *models.VideoMetadata) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO video_metadata (
			path, folder_id, project_id, size_kb, modified,
			created_ts, created_year, created_month, created_day,
			duration_sec, codec, width, height, fps, bitrate_kbps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path, project_id) DO UPDATE SET
			folder_id = excluded.folder_id,
			size_kb = excluded.size_kb,
			modified = excluded.modified,
			duration_sec = excluded.duration_sec,
			codec = excluded.codec,
			width = excluded.width,
			height = excluded.height,
			fps = excluded.fps,
			bitrate_kbps = excluded.bitrate_kbps
	`, v.Path, v.FolderID, v.ProjectID, v.SizeKB, v.Modified,
		v.CreatedTS, v.CreatedYear, v.CreatedMonth, v.CreatedDay,
		v.DurationSec, v.Codec, v.Width, v.Height, v.FPS, v.BitrateKbps)
	if err != nil {
		return 0, fmt.Errorf("upsert video: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM video_metadata WHERE path = ? AND project_id = ?`, v.Path, v.ProjectID).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve video id: %w", err)
	}
	return id, nil
}

// MarkPhotosMissing flags every photo under projectID whose path is not in
// present, used by incremental scan to detect deletions without a physical
// delete (the row, and any asset/instance/face history tied to it, is kept).
func (s *Store) MarkPhotosMissing(ctx context.Context, projectID int64, present map[string]bool) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path FROM photo_metadata WHERE project_id = ? AND missing = 0`, projectID)
	if err != nil {
		return fmt.Errorf("scan missing candidates: %w", err)
	}
	var toMark []int64
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return err
		}
		if !present[path] {
			toMark = append(toMark, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(toMark) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range toMark {
			if _, err := tx.ExecContext(ctx, `UPDATE photo_metadata SET missing = 1 WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordMetadataFailure increments metadata_fail_count and stores the
// error, used so repeated extraction failures stop being retried after
// the third attempt (ShouldRetryMetadata).
func (s *Store) RecordMetadataFailure(ctx context.Context, photoID int64, errMsg string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE photo_metadata SET metadata_fail_count = metadata_fail_count + 1, last_error = ?
			WHERE id = ?
		`, errMsg, photoID)
		return err
	})
}

// ClearMetadataFailure resets the failure counter after a derivation
// that completes without error, so a file that previously failed but
// now succeeds (after an edit, or after a transient extraction error)
// doesn't stay suppressed by ShouldRetryMetadata.
func (s *Store) ClearMetadataFailure(ctx context.Context, photoID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE photo_metadata SET metadata_fail_count = 0, last_error = '' WHERE id = ?
		`, photoID)
		return err
	})
}

// UpsertAsset resolves the (project_id, content_hash) row, creating it on
// first sight. This is the single entry point into the content-addressable
// layer: every instance write must go through an asset resolved here first.
func (s *Store) UpsertAsset(ctx context.Context, tx *sql.Tx, projectID int64, contentHash string, pHash uint64, repPhotoID int64) (int64, error) {
	var assetID int64
	err := tx.QueryRowContext(ctx, `SELECT asset_id FROM media_asset WHERE project_id = ? AND content_hash = ?`, projectID, contentHash).Scan(&assetID)
	if err == nil {
		return assetID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup asset: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO media_asset (project_id, content_hash, perceptual_hash, representative_photo_id)
		VALUES (?, ?, ?, ?)
	`, projectID, contentHash, pHash, repPhotoID)
	if err != nil {
		return 0, fmt.Errorf("insert asset: %w", err)
	}
	return res.LastInsertId()
}

// LinkInstance records that photoID is an occurrence of assetID within
// projectID. Idempotent: re-linking the same triple is a no-op.
func (s *Store) LinkInstance(ctx context.Context, tx *sql.Tx, projectID, assetID, photoID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO media_instance (project_id, asset_id, photo_id) VALUES (?, ?, ?)
		ON CONFLICT(project_id, asset_id, photo_id) DO NOTHING
	`, projectID, assetID, photoID)
	if err != nil {
		return fmt.Errorf("link instance: %w", err)
	}
	return nil
}

// AssetInstanceCount reports how many distinct photo rows share assetID,
// used by exact-duplicate detection (count > 1).
func (s *Store) AssetInstanceCount(ctx context.Context, assetID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_instance WHERE asset_id = ?`, assetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

// AssetSiblings returns every other photo id sharing photoID's asset
// (its exact-duplicate instances), used by similarity search to exclude
// the reference photo's own duplicates from results per spec.md §4.6.
func (s *Store) AssetSiblings(ctx context.Context, projectID, photoID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mi2.photo_id
		FROM media_instance mi1
		JOIN media_instance mi2 ON mi2.asset_id = mi1.asset_id AND mi2.project_id = mi1.project_id
		WHERE mi1.project_id = ? AND mi1.photo_id = ? AND mi2.photo_id != mi1.photo_id
	`, projectID, photoID)
	if err != nil {
		return nil, fmt.Errorf("asset siblings: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ContentHashForPhoto returns the content hash of the asset photoID is
// currently an instance of, used as the embedding row's source_hash so a
// re-edited file (new content hash at the same path) is detected as
// stale rather than silently reused.
func (s *Store) ContentHashForPhoto(ctx context.Context, photoID int64) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT ma.content_hash
		FROM media_instance mi
		JOIN media_asset ma ON ma.asset_id = mi.asset_id
		WHERE mi.photo_id = ?
		LIMIT 1
	`, photoID).Scan(&hash)
	if err != nil {
		return "", fmt.Errorf("content hash for photo %d: %w", photoID, err)
	}
	return hash, nil
}

// ExactDuplicateGroups returns, for a project, every asset with more than
// one instance together with its member photo ids.
func (s *Store) ExactDuplicateGroups(ctx context.Context, projectID int64) (map[int64][]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mi.asset_id, mi.photo_id
		FROM media_instance mi
		WHERE mi.project_id = ? AND mi.asset_id IN (
			SELECT asset_id FROM media_instance WHERE project_id = ? GROUP BY asset_id HAVING COUNT(*) > 1
		)
		ORDER BY mi.asset_id
	`, projectID, projectID)
	if err != nil {
		return nil, fmt.Errorf("exact duplicate groups: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var assetID, photoID int64
		if err := rows.Scan(&assetID, &photoID); err != nil {
			return nil, err
		}
		out[assetID] = append(out[assetID], photoID)
	}
	return out, rows.Err()
}

// AllPerceptualHashes returns every (photo_id, pHash) pair for a project's
// assets, the input to the similar-stack union-find pass.
func (s *Store) AllPerceptualHashes(ctx context.Context, projectID int64) (map[int64]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT representative_photo_id, perceptual_hash FROM media_asset WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list perceptual hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]uint64)
	for rows.Next() {
		var photoID int64
		var h uint64
		if err := rows.Scan(&photoID, &h); err != nil {
			return nil, err
		}
		out[photoID] = h
	}
	return out, rows.Err()
}

// GetPhotoByPath loads one photo_metadata row by (project_id, path),
// used by incremental scan to check a file's stored (size, mtime)
// before re-deriving it.
func (s *Store) GetPhotoByPath(ctx context.Context, projectID int64, path string) (*models.PhotoMetadata, error) {
	p := &models.PhotoMetadata{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, folder_id, project_id, size_kb, modified, date_taken,
		       created_ts, created_year, created_month, created_day, width, height,
		       metadata_fail_count, last_error, faces_status, embed_status, missing
		FROM photo_metadata WHERE project_id = ? AND path = ?
	`, projectID, path).Scan(&p.ID, &p.Path, &p.FolderID, &p.ProjectID, &p.SizeKB, &p.Modified, &p.DateTaken,
		&p.CreatedTS, &p.CreatedYear, &p.CreatedMonth, &p.CreatedDay, &p.Width, &p.Height,
		&p.MetadataFailCount, &p.LastError, &p.FacesStatus, &p.EmbedStatus, &p.Missing)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get photo by path: %w", err)
	}
	return p, nil
}

// GetPhotoMeta loads one photo_metadata row by id.
func (s *Store) GetPhotoMeta(ctx context.Context, photoID int64) (*models.PhotoMetadata, error) {
	p := &models.PhotoMetadata{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, folder_id, project_id, size_kb, modified, date_taken,
		       created_ts, created_year, created_month, created_day, width, height,
		       metadata_fail_count, last_error, faces_status, embed_status, missing
		FROM photo_metadata WHERE id = ?
	`, photoID).Scan(&p.ID, &p.Path, &p.FolderID, &p.ProjectID, &p.SizeKB, &p.Modified, &p.DateTaken,
		&p.CreatedTS, &p.CreatedYear, &p.CreatedMonth, &p.CreatedDay, &p.Width, &p.Height,
		&p.MetadataFailCount, &p.LastError, &p.FacesStatus, &p.EmbedStatus, &p.Missing)
	if err != nil {
		return nil, fmt.Errorf("get photo meta: %w", err)
	}
	return p, nil
}

// SetFacesStatus transitions a photo's face-pipeline status (pending,
// done, skipped), the eligibility flag the detection stage checks before
// re-running a photo it has already processed.
func (s *Store) SetFacesStatus(ctx context.Context, photoID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE photo_metadata SET faces_status = ? WHERE id = ?`, status, photoID)
	if err != nil {
		return fmt.Errorf("set faces status: %w", err)
	}
	return nil
}

// SetEmbedStatus transitions a photo's semantic-embedding eligibility
// flag, mirroring SetFacesStatus for the embedding pipeline.
func (s *Store) SetEmbedStatus(ctx context.Context, photoID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE photo_metadata SET embed_status = ? WHERE id = ?`, status, photoID)
	if err != nil {
		return fmt.Errorf("set embed status: %w", err)
	}
	return nil
}

// ResolvePhotoScope expands a job's scope string into a concrete photo-id
// list. Recognised forms: "all", "folder:<id>", "dates:<from>,<to>"
// (YYYY-MM-DD), or a bare float string in (0,1] selecting that fraction
// of the project's photos (oldest-first, for reproducible partial runs).
func (s *Store) ResolvePhotoScope(ctx context.Context, projectID int64, scope string) ([]int64, error) {
	switch {
	case scope == "" || scope == "all":
		return s.photoIDsWhere(ctx, `project_id = ? AND missing = 0`, projectID)
	case strings.HasPrefix(scope, "folder:"):
		folderID, err := strconv.ParseInt(strings.TrimPrefix(scope, "folder:"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("resolve scope: malformed folder scope %q: %w", scope, err)
		}
		return s.photoIDsWhere(ctx, `project_id = ? AND missing = 0 AND folder_id = ?`, projectID, folderID)
	case strings.HasPrefix(scope, "dates:"):
		parts := strings.SplitN(strings.TrimPrefix(scope, "dates:"), ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("resolve scope: malformed dates scope %q", scope)
		}
		return s.photoIDsWhere(ctx, `project_id = ? AND missing = 0 AND date(created_ts) BETWEEN date(?) AND date(?)`, projectID, parts[0], parts[1])
	default:
		pct, err := strconv.ParseFloat(scope, 64)
		if err != nil || pct <= 0 || pct > 1 {
			return nil, fmt.Errorf("resolve scope: unrecognised scope %q", scope)
		}
		all, err := s.photoIDsWhere(ctx, `project_id = ? AND missing = 0 ORDER BY created_ts`, projectID)
		if err != nil {
			return nil, err
		}
		n := int(float64(len(all)) * pct)
		if n < 1 && len(all) > 0 {
			n = 1
		}
		if n > len(all) {
			n = len(all)
		}
		return all[:n], nil
	}
}

func (s *Store) photoIDsWhere(ctx context.Context, where string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM photo_metadata WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve scope: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

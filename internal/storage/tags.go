package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertTag resolves a project-scoped tag name to its id, creating it on
// first use.
func (s *Store) UpsertTag(ctx context.Context, tx *sql.Tx, projectID int64, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE project_id = ? AND name = ?`, projectID, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup tag: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO tags (project_id, name) VALUES (?, ?)`, projectID, name)
	if err != nil {
		return 0, fmt.Errorf("insert tag: %w", err)
	}
	return res.LastInsertId()
}

// TagPhoto attaches tagID to photoID. Idempotent.
func (s *Store) TagPhoto(ctx context.Context, photoID, tagID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO photo_tags (photo_id, tag_id) VALUES (?, ?) ON CONFLICT(photo_id, tag_id) DO NOTHING`, photoID, tagID)
		return err
	})
}

// UntagPhoto detaches tagID from photoID.
func (s *Store) UntagPhoto(ctx context.Context, photoID, tagID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM photo_tags WHERE photo_id = ? AND tag_id = ?`, photoID, tagID)
		return err
	})
}

// PhotoTags lists the tag names attached to a photo, scoped by project_id
// so a tag row from another project can never leak into the result.
func (s *Store) PhotoTags(ctx context.Context, projectID, photoID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name FROM photo_tags pt
		JOIN tags t ON t.id = pt.tag_id
		WHERE pt.photo_id = ? AND t.project_id = ?
	`, photoID, projectID)
	if err != nil {
		return nil, fmt.Errorf("photo tags: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

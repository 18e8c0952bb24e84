package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// CreatePersonGroup creates a user-defined AND-match group over a set of
// branch keys. Starts stale; the group_index job fills the match cache.
func (s *Store) CreatePersonGroup(ctx context.Context, projectID int64, name string, branchKeys []string) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO person_groups (project_id, name, stale) VALUES (?, ?, 1)`, projectID, name)
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, bk := range branchKeys {
			if _, err := tx.ExecContext(ctx, `INSERT INTO person_group_members (group_id, branch_key) VALUES (?, ?)`, id, bk); err != nil {
				return fmt.Errorf("insert group member: %w", err)
			}
		}
		return nil
	})
	return id, err
}

// StalePersonGroups returns every group id in a project flagged stale,
// the work queue for the group_index job.
func (s *Store) StalePersonGroups(ctx context.Context, projectID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM person_groups WHERE project_id = ? AND stale = 1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("stale groups: %w", err)
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

// GroupMembers returns a group's branch keys.
func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT branch_key FROM person_group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("group members: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RebuildGroupMatches replaces a group's materialized AND-match cache and
// clears its stale flag, in one transaction.
func (s *Store) RebuildGroupMatches(ctx context.Context, groupID int64, photoIDs []int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM person_group_matches WHERE group_id = ?`, groupID); err != nil {
			return err
		}
		for _, pid := range photoIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO person_group_matches (group_id, photo_id) VALUES (?, ?)`, groupID, pid); err != nil {
				return fmt.Errorf("insert group match: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `UPDATE person_groups SET stale = 0 WHERE id = ?`, groupID)
		return err
	})
}

// GroupMatches returns a group's materialized match set.
func (s *Store) GroupMatches(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT photo_id FROM person_group_matches WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("group matches: %w", err)
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

// MarkGroupsStaleForBranch flags every group referencing branchKey as
// stale, used when a branch is deleted or its membership changes so the
// group_index job knows to rebuild its AND-match cache.
func (s *Store) MarkGroupsStaleForBranch(ctx context.Context, projectID int64, branchKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE person_groups SET stale = 1 WHERE project_id = ? AND id IN (
			SELECT group_id FROM person_group_members WHERE branch_key = ?
		)
	`, projectID, branchKey)
	if err != nil {
		return fmt.Errorf("mark groups stale: %w", err)
	}
	return nil
}

// PhotosContainingBranch returns every photo id with at least one face
// crop assigned to branchKey, the per-branch candidate set the groups
// package's rebuildOne intersects across a group's members before
// RebuildGroupMatches stores the result.
func (s *Store) PhotosContainingBranch(ctx context.Context, projectID int64, branchKey string) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT pm.id
		FROM face_crops fc
		JOIN photo_metadata pm ON pm.path = fc.image_path AND pm.project_id = fc.project_id
		WHERE fc.project_id = ? AND fc.branch_key = ?
	`, projectID, branchKey)
	if err != nil {
		return nil, fmt.Errorf("photos containing branch: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

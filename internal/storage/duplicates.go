package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ReplaceSimilarStacks atomically drops every existing similar_stacks row
// for a project and inserts the freshly computed union-find output. Run
// as one transaction so readers never observe a partial stack set.
func (s *Store) ReplaceSimilarStacks(ctx context.Context, projectID int64, stacks [][]StackMember) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		ids, err := tx.QueryContext(ctx, `SELECT id FROM similar_stacks WHERE project_id = ?`, projectID)
		if err != nil {
			return fmt.Errorf("list existing stacks: %w", err)
		}
		var staleIDs []int64
		for ids.Next() {
			var id int64
			if err := ids.Scan(&id); err != nil {
				ids.Close()
				return err
			}
			staleIDs = append(staleIDs, id)
		}
		ids.Close()
		if err := ids.Err(); err != nil {
			return err
		}
		for _, id := range staleIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM similar_stacks WHERE id = ?`, id); err != nil {
				return fmt.Errorf("delete stale stack %d: %w", id, err)
			}
		}

		for _, members := range stacks {
			if len(members) < 2 {
				continue // singleton clusters are not stacks
			}
			rep := members[0].PhotoID
			for _, m := range members {
				if m.Distance == 0 {
					rep = m.PhotoID
					break
				}
			}
			res, err := tx.ExecContext(ctx, `INSERT INTO similar_stacks (project_id, representative_photo_id) VALUES (?, ?)`, projectID, rep)
			if err != nil {
				return fmt.Errorf("insert stack: %w", err)
			}
			stackID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			for _, m := range members {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO similar_stack_members (stack_id, photo_id, distance) VALUES (?, ?, ?)
				`, stackID, m.PhotoID, m.Distance); err != nil {
					return fmt.Errorf("insert stack member: %w", err)
				}
			}
		}
		return nil
	})
}

// StackMember is one photo within a similar-stack, with its Hamming
// distance from the stack's chosen representative.
type StackMember struct {
	PhotoID  int64
	Distance int
}

// ListSimilarStacks returns every stack for a project as stack id ->
// member photo ids, representative first.
func (s *Store) ListSimilarStacks(ctx context.Context, projectID int64) (map[int64][]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.representative_photo_id, m.photo_id
		FROM similar_stacks st
		JOIN similar_stack_members m ON m.stack_id = st.id
		WHERE st.project_id = ?
		ORDER BY st.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list similar stacks: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	reps := make(map[int64]int64)
	for rows.Next() {
		var stackID, rep, photoID int64
		if err := rows.Scan(&stackID, &rep, &photoID); err != nil {
			return nil, err
		}
		reps[stackID] = rep
		if photoID == rep {
			out[stackID] = append([]int64{photoID}, out[stackID]...)
		} else {
			out[stackID] = append(out[stackID], photoID)
		}
	}
	return out, rows.Err()
}

// SetStackRepresentative moves the representative marker to photoID within
// the stack containing it, honoring a user's explicit "use this photo"
// override.
func (s *Store) SetStackRepresentative(ctx context.Context, stackID, photoID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE similar_stacks SET representative_photo_id = ? WHERE id = ?`, photoID, stackID)
		return err
	})
}

// UnstackPhoto removes one photo from a stack. If fewer than two members
// remain, the stack itself is dissolved (a stack of one is not a stack).
func (s *Store) UnstackPhoto(ctx context.Context, stackID, photoID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM similar_stack_members WHERE stack_id = ? AND photo_id = ?`, stackID, photoID); err != nil {
			return err
		}
		var remaining int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM similar_stack_members WHERE stack_id = ?`, stackID).Scan(&remaining); err != nil {
			return err
		}
		if remaining < 2 {
			_, err := tx.ExecContext(ctx, `DELETE FROM similar_stacks WHERE id = ?`, stackID)
			return err
		}
		return nil
	})
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reflib/libraryd/internal/models"
)

// EnqueueJob inserts a new job row in state=queued. config is marshaled
// to JSON before storage so job kinds can carry heterogeneous config
// shapes (models.ScanConfig, FacesDetectConfig, SemanticEmbedConfig, ...).
func (s *Store) EnqueueJob(ctx context.Context, projectID int64, kind models.JobKind, config interface{}) (int64, error) {
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return 0, fmt.Errorf("marshal job config: %w", err)
	}
	var id int64
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ml_job (project_id, kind, state, config) VALUES (?, ?, 'queued', ?)
		`, projectID, string(kind), string(cfgJSON))
		if err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// AcquireLease atomically claims the oldest queued (or previously leased
// but expired) job of one of the given kinds for owner, setting state to
// running and a lease expiring after leaseFor. Returns nil, nil if
// nothing is claimable (not an error: an empty queue is normal).
func (s *Store) AcquireLease(ctx context.Context, kinds []models.JobKind, owner string, leaseFor time.Duration) (*models.MLJob, error) {
	var job *models.MLJob
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var globalPause string
		if err := tx.QueryRowContext(ctx, `SELECT value FROM ml_job_control WHERE key = 'global_pause'`).Scan(&globalPause); err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("check global pause: %w", err)
		}
		if globalPause == "1" {
			return nil
		}

		placeholders := make([]interface{}, 0, len(kinds)+0)
		q := `SELECT id FROM ml_job WHERE paused = 0 AND cancel_requested = 0 AND (
			state = 'queued' OR (state = 'running' AND lease_expires_at < CURRENT_TIMESTAMP)
		) AND kind IN (`
		for i, k := range kinds {
			if i > 0 {
				q += ","
			}
			q += "?"
			placeholders = append(placeholders, string(k))
		}
		q += ") ORDER BY created_at LIMIT 1"

		var id int64
		if err := tx.QueryRowContext(ctx, q, placeholders...).Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("find claimable job: %w", err)
		}

		expiresAt := time.Now().Add(leaseFor)
		if _, err := tx.ExecContext(ctx, `
			UPDATE ml_job SET state = 'running', owner = ?, lease_expires_at = ?,
				started_at = COALESCE(started_at, CURRENT_TIMESTAMP), updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, owner, expiresAt, id); err != nil {
			return fmt.Errorf("claim job: %w", err)
		}

		j, err := s.getJobTx(ctx, tx, id)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// RenewLease extends a running job's lease, called periodically by the
// worker holding it so a slow-but-alive job is never mistaken for a
// crashed one.
func (s *Store) RenewLease(ctx context.Context, jobID int64, owner string, leaseFor time.Duration) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE ml_job SET lease_expires_at = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND owner = ? AND state = 'running'
		`, time.Now().Add(leaseFor), jobID, owner)
		if err != nil {
			return fmt.Errorf("renew lease: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("renew lease: job %d not owned by %s or not running", jobID, owner)
		}
		return nil
	})
}

// UpdateProgress advances processed/total and the restart-safe checkpoint
// id for a running job.
func (s *Store) UpdateProgress(ctx context.Context, jobID, processed, total, checkpointID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE ml_job SET progress_done = ?, progress_total = ?, checkpoint_id = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, processed, total, checkpointID, jobID)
		return err
	})
}

// FinishJob transitions a job to a terminal state (done or failed).
func (s *Store) FinishJob(ctx context.Context, jobID int64, state models.JobState, errMsg string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE ml_job SET state = ?, error = ?, finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, string(state), errMsg, jobID)
		return err
	})
}

// RequestCancel sets the cooperative cancel flag; the owning worker polls
// this and transitions the job to canceled at its next checkpoint.
func (s *Store) RequestCancel(ctx context.Context, jobID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE ml_job SET cancel_requested = 1 WHERE id = ?`, jobID)
		return err
	})
}

// SetPaused sets or clears a job's cooperative pause flag.
func (s *Store) SetPaused(ctx context.Context, jobID int64, paused bool) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE ml_job SET paused = ? WHERE id = ?`, paused, jobID)
		return err
	})
}

// SetGlobalPause is the system-wide pause flag: when true, AcquireLease
// must claim nothing regardless of per-job paused state. Implemented as a
// row in a tiny key/value table so it survives restarts alongside jobs.
func (s *Store) SetGlobalPause(ctx context.Context, paused bool) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ml_job_control (key, value) VALUES ('global_pause', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, boolToText(paused))
		return err
	})
}

// GlobalPaused reports the current system-wide pause flag.
func (s *Store) GlobalPaused(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ml_job_control WHERE key = 'global_pause'`).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("global paused: %w", err)
	}
	return v == "1", nil
}

func boolToText(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// GetJob loads a single job by id.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*models.MLJob, error) {
	return s.getJobTx(ctx, nil, jobID)
}

func (s *Store) getJobTx(ctx context.Context, tx *sql.Tx, jobID int64) (*models.MLJob, error) {
	row := func() *sql.Row {
		if tx != nil {
			return tx.QueryRowContext(ctx, jobSelectCols+` WHERE id = ?`, jobID)
		}
		return s.db.QueryRowContext(ctx, jobSelectCols+` WHERE id = ?`, jobID)
	}()
	return scanJob(row)
}

const jobSelectCols = `
	SELECT id, project_id, kind, state, config, checkpoint_id, progress_done, progress_total,
	       owner, lease_expires_at, created_at, updated_at, started_at, finished_at, error, paused, cancel_requested
	FROM ml_job`

func scanJob(row *sql.Row) (*models.MLJob, error) {
	j := &models.MLJob{}
	var kind, state string
	var owner sql.NullString
	var leaseExpires, startedAt, finishedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.ProjectID, &kind, &state, &j.ConfigJSON, &j.CheckpointID,
		&j.Processed, &j.Total, &owner, &leaseExpires, &j.CreatedAt,
		&j.UpdatedAt, &startedAt, &finishedAt, &j.Error, &j.Paused, &j.CancelRequested); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job not found: %w", err)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Kind = models.JobKind(kind)
	j.State = models.JobState(state)
	j.LeaseOwner = owner.String
	if leaseExpires.Valid {
		t := leaseExpires.Time
		j.LeaseExpiresAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return j, nil
}

// ListJobs returns jobs for a project, most recent first, optionally
// filtered by kind (empty string means all kinds).
func (s *Store) ListJobs(ctx context.Context, projectID int64, kind models.JobKind) ([]*models.MLJob, error) {
	query := `
		SELECT id, project_id, kind, state, config, checkpoint_id, progress_done, progress_total,
		       owner, lease_expires_at, created_at, updated_at, started_at, finished_at, error, paused, cancel_requested
		FROM ml_job WHERE project_id = ?`
	args := []interface{}{projectID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.MLJob
	for rows.Next() {
		j := &models.MLJob{}
		var kindStr, stateStr string
		var owner sql.NullString
		var leaseExpires, startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&j.ID, &j.ProjectID, &kindStr, &stateStr, &j.ConfigJSON, &j.CheckpointID,
			&j.Processed, &j.Total, &owner, &leaseExpires, &j.CreatedAt,
			&j.UpdatedAt, &startedAt, &finishedAt, &j.Error, &j.Paused, &j.CancelRequested); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Kind = models.JobKind(kindStr)
		j.State = models.JobState(stateStr)
		j.LeaseOwner = owner.String
		if leaseExpires.Valid {
			t := leaseExpires.Time
			j.LeaseExpiresAt = &t
		}
		if startedAt.Valid {
			t := startedAt.Time
			j.StartedAt = &t
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			j.FinishedAt = &t
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

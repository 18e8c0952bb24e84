package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reflib/libraryd/internal/models"
)

// CreateProject inserts a new project row and returns its assigned id.
func (s *Store) CreateProject(ctx context.Context, p *models.Project) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO projects (name, folder, mode, semantic_model, cluster_eps, cluster_min_samples)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.Name, p.Folder, p.Mode, p.SemanticModel, p.ClusterEps, p.ClusterMinSamples)
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, folder, mode, semantic_model, cluster_eps, cluster_min_samples, created_at
		FROM projects WHERE id = ?
	`, id)
	p := &models.Project{}
	if err := row.Scan(&p.ID, &p.Name, &p.Folder, &p.Mode, &p.SemanticModel, &p.ClusterEps, &p.ClusterMinSamples, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("project %d: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, folder, mode, semantic_model, cluster_eps, cluster_min_samples, created_at
		FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Folder, &p.Mode, &p.SemanticModel, &p.ClusterEps, &p.ClusterMinSamples, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetSemanticModel is the sole writer of projects.semantic_model. It is a
// migration operation (triggers a reindex), never a plain settings update,
// so it is kept separate from a generic UpdateProject method.
func (s *Store) SetSemanticModel(ctx context.Context, projectID int64, model string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE projects SET semantic_model = ? WHERE id = ?`, model, projectID)
		if err != nil {
			return fmt.Errorf("set semantic model: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("project %d not found", projectID)
		}
		return nil
	})
}

// SetClusterParams updates the project's DBSCAN eps/min_samples.
func (s *Store) SetClusterParams(ctx context.Context, projectID int64, eps float64, minSamples int) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE projects SET cluster_eps = ?, cluster_min_samples = ? WHERE id = ?`, eps, minSamples, projectID)
		return err
	})
}

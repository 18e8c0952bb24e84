package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reflib/libraryd/internal/models"
)

// UpsertEmbedding writes or replaces a photo's embedding for a given
// model. Re-embedding (force_recompute, or a model switch) overwrites the
// existing row rather than appending, since (photo_id, model) is the
// primary key.
func (s *Store) UpsertEmbedding(ctx context.Context, tx *sql.Tx, e *models.SemanticEmbedding) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO semantic_embeddings (photo_id, model, embedding, dim, source_hash, source_mtime, corrupt)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(photo_id, model) DO UPDATE SET
			embedding = excluded.embedding,
			dim = excluded.dim,
			source_hash = excluded.source_hash,
			source_mtime = excluded.source_mtime,
			corrupt = 0
	`, e.PhotoID, e.Model, e.Embedding, e.Dim, e.SourceHash, e.SourceMtime)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// EmbeddingsForModel streams every embedding row for the given model
// within a project, the candidate set for brute-force cosine search.
func (s *Store) EmbeddingsForModel(ctx context.Context, projectID int64, model string) ([]*models.SemanticEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT se.photo_id, se.model, se.embedding, se.dim, se.source_hash, se.source_mtime
		FROM semantic_embeddings se
		JOIN photo_metadata pm ON pm.id = se.photo_id
		WHERE pm.project_id = ? AND se.model = ? AND se.corrupt = 0
	`, projectID, model)
	if err != nil {
		return nil, fmt.Errorf("embeddings for model: %w", err)
	}
	defer rows.Close()

	var out []*models.SemanticEmbedding
	for rows.Next() {
		e := &models.SemanticEmbedding{}
		if err := rows.Scan(&e.PhotoID, &e.Model, &e.Embedding, &e.Dim, &e.SourceHash, &e.SourceMtime); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PhotosMissingEmbedding returns photo ids in a project with no row for
// model, or whose source_hash no longer matches the photo's current
// content hash (stale after a re-edit).
func (s *Store) PhotosMissingEmbedding(ctx context.Context, projectID int64, model string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pm.id FROM photo_metadata pm
		WHERE pm.project_id = ? AND pm.missing = 0 AND NOT EXISTS (
			SELECT 1 FROM semantic_embeddings se WHERE se.photo_id = pm.id AND se.model = ? AND se.corrupt = 0
				AND se.source_hash = (
					SELECT ma.content_hash FROM media_instance mi
					JOIN media_asset ma ON ma.asset_id = mi.asset_id
					WHERE mi.photo_id = pm.id LIMIT 1
				)
		)
		ORDER BY pm.id
	`, projectID, model)
	if err != nil {
		return nil, fmt.Errorf("photos missing embedding: %w", err)
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

// MarkEmbeddingCorrupt flags a row as unusable without deleting it,
// preserving the audit trail while excluding it from search and from
// PhotosMissingEmbedding's "already has a row" check — a corrupt row must
// still be recomputed, not silently skipped forever.
func (s *Store) MarkEmbeddingCorrupt(ctx context.Context, photoID int64, model string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE semantic_embeddings SET corrupt = 1 WHERE photo_id = ? AND model = ?`, photoID, model)
		return err
	})
}

// DeleteEmbeddingsForModel removes every row for a model, in every
// project. Nothing in the engine calls it: MigrateModel leaves the prior
// model's rows in place.
func (s *Store) DeleteEmbeddingsForModel(ctx context.Context, model string) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM semantic_embeddings WHERE model = ?`, model)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// EmbeddingCoverage returns (have, total) for a project's current
// canonical model, used to report readiness to callers of similarity
// search before EmbeddingNotReadyError would otherwise surface mid-query.
func (s *Store) EmbeddingCoverage(ctx context.Context, projectID int64, model string) (have, total int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photo_metadata WHERE project_id = ? AND missing = 0`, projectID).Scan(&total)
	if err != nil {
		return 0, 0, fmt.Errorf("count total: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM semantic_embeddings se
		JOIN photo_metadata pm ON pm.id = se.photo_id
		WHERE pm.project_id = ? AND se.model = ? AND se.corrupt = 0
	`, projectID, model).Scan(&have)
	if err != nil {
		return 0, 0, fmt.Errorf("count have: %w", err)
	}
	return have, total, nil
}

// Package embeddings implements the semantic embedding index's batch
// worker and model-migration protocol (spec.md §4.5): per-project
// canonical-model enforcement, idempotent/restart-safe embedding
// generation, and the reindex-on-model-change sequence. Grounded on
// the teacher's person_reid.go averaged-feature idiom for the
// normalize-at-write-time convention, and on
// original_source/workers/semantic_embedding_worker.go +
// original_source/migrations/migration_v9_1_semantic_model.py for the
// exact checkpoint/resume and idempotence mechanics this package
// reproduces in Go.
package embeddings

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/actions"
	"github.com/reflib/libraryd/internal/apperr"
	"github.com/reflib/libraryd/internal/jobs"
	"github.com/reflib/libraryd/internal/mlcontract"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/similarity"
	"github.com/reflib/libraryd/internal/storage"
	"github.com/reflib/libraryd/internal/vecmath"
)

// DefaultCheckpointInterval is how many photos the worker processes
// between progress checkpoints, spec.md §4.5's default of 10.
const DefaultCheckpointInterval = 10

// NewHandler builds the jobs.Handler for models.KindSemanticEmbed. It
// fails fast with apperr.ModelMismatchError if the job's requested
// model differs from the project's canonical model, then embeds every
// photo in the configured id list (or, if empty, every photo missing a
// current-model row) skipping any whose (photo_id, model) row already
// exists with a matching source_hash.
func NewHandler(store *storage.Store, embedder mlcontract.Embedder, dispatch *actions.Store, log *zap.SugaredLogger) jobs.Handler {
	return func(ctx context.Context, run *jobs.Runner, job *models.MLJob) error {
		var cfg models.SemanticEmbedConfig
		if err := job.Config(&cfg); err != nil {
			return fmt.Errorf("embeddings: decode config: %w", err)
		}

		project, err := store.GetProject(ctx, job.ProjectID)
		if err != nil {
			return fmt.Errorf("embeddings: load project: %w", err)
		}
		if project.SemanticModel != "" && cfg.Model != project.SemanticModel {
			return &apperr.ModelMismatchError{Canonical: project.SemanticModel, Requested: cfg.Model, ProjectID: job.ProjectID}
		}
		if project.SemanticModel == "" {
			// first embedding run for this project: the requested model
			// becomes canonical.
			if err := store.SetSemanticModel(ctx, job.ProjectID, cfg.Model); err != nil {
				return fmt.Errorf("embeddings: set canonical model: %w", err)
			}
		}

		photoIDs := cfg.PhotoIDs
		if len(photoIDs) == 0 {
			photoIDs, err = store.PhotosMissingEmbedding(ctx, job.ProjectID, cfg.Model)
			if err != nil {
				return fmt.Errorf("embeddings: list missing: %w", err)
			}
		}

		interval := cfg.SaveProgressInterval
		if interval <= 0 {
			interval = DefaultCheckpointInterval
		}

		var generated, failed int64
		for i, photoID := range photoIDs {
			if run.ShouldCancel() {
				return nil
			}
			if i < int(job.CheckpointID) {
				continue // resumed past this id on a prior attempt
			}

			ok, err := embedOne(ctx, store, embedder, job.ProjectID, photoID, cfg.Model, cfg.ForceRecompute)
			if err != nil {
				log.Warnw("embeddings: photo failed, isolated", "photo_id", photoID, "error", err)
				failed++
			} else if ok {
				generated++
			}

			if (i+1)%interval == 0 || i == len(photoIDs)-1 {
				if err := run.Progress(ctx, int64(i+1), int64(len(photoIDs)), int64(i+1)); err != nil {
					return err
				}
			}
		}

		log.Infow("embeddings: batch complete", "project_id", job.ProjectID, "generated", generated, "failed", failed)
		dispatch.Dispatch(actions.EmbeddingsCompleted{
			Meta:      dispatch.MakeMeta("semantic_embed"),
			JobID:     job.ID,
			Generated: generated,
		})
		return nil
	}
}

// embedOne embeds a single photo, skipping it (returning ok=false, err=nil)
// if a current row already exists for model and force is false. A
// decoder or missing-file error is returned to the caller, which
// isolates it per spec.md §4.5 rather than aborting the batch.
func embedOne(ctx context.Context, store *storage.Store, embedder mlcontract.Embedder, projectID, photoID int64, model string, force bool) (bool, error) {
	hash, err := store.ContentHashForPhoto(ctx, photoID)
	if err != nil {
		return false, fmt.Errorf("content hash: %w", err)
	}

	if !force {
		existing, err := store.EmbeddingsForModel(ctx, projectID, model)
		if err != nil {
			return false, fmt.Errorf("load existing: %w", err)
		}
		for _, e := range existing {
			if e.PhotoID == photoID && e.SourceHash == hash {
				return false, nil // idempotent skip
			}
		}
	}

	photo, err := store.GetPhotoMeta(ctx, photoID)
	if err != nil {
		return false, fmt.Errorf("load photo: %w", err)
	}
	vec, err := embedder.EmbedImage(ctx, photo.Path)
	if err != nil {
		return false, fmt.Errorf("embed image: %w", err)
	}
	vec = vecmath.L2Normalize(vec)

	blob, dim := similarity.PackFloat16(vec)
	row := &models.SemanticEmbedding{
		PhotoID:     photoID,
		Model:       model,
		Embedding:   blob,
		Dim:         dim,
		SourceHash:  hash,
		SourceMtime: photo.Modified.Unix(),
	}
	if err := store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertEmbedding(ctx, tx, row)
	}); err != nil {
		return false, fmt.Errorf("persist embedding: %w", err)
	}
	if err := store.SetEmbedStatus(ctx, photoID, "done"); err != nil {
		return false, err
	}
	return true, nil
}

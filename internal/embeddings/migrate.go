package embeddings

import (
	"context"
	"fmt"

	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
)

// ReindexSet lists every photo in the project that has no up-to-date
// embedding stored under newModel: photos embedded only under other
// models (whose rows become invisible to search once newModel is
// canonical), photos never embedded at all, and photos whose newModel
// row carries a stale source hash. Old rows are left in place for
// rollback — they simply stop matching EmbeddingsForModel's filter.
func ReindexSet(ctx context.Context, store *storage.Store, projectID int64, newModel string) ([]int64, error) {
	photoIDs, err := store.PhotosMissingEmbedding(ctx, projectID, newModel)
	if err != nil {
		return nil, fmt.Errorf("embeddings: reindex set: %w", err)
	}
	return photoIDs, nil
}

// MigrateModel implements spec.md §4.5's model-migration protocol:
// switch the project's canonical model, then enqueue a semantic_embed
// job whose photo-id list is exactly the reindex set. Search degrades
// gracefully in the interim — EmbeddingsForModel simply returns fewer
// rows until the reindex job completes.
func MigrateModel(ctx context.Context, store *storage.Store, projectID int64, newModel string) (jobID int64, reindexCount int, err error) {
	photoIDs, err := ReindexSet(ctx, store, projectID, newModel)
	if err != nil {
		return 0, 0, err
	}

	if err := store.SetSemanticModel(ctx, projectID, newModel); err != nil {
		return 0, 0, fmt.Errorf("embeddings: switch canonical model: %w", err)
	}

	jobID, err = store.EnqueueJob(ctx, projectID, models.KindSemanticEmbed, models.SemanticEmbedConfig{
		Model:    newModel,
		PhotoIDs: photoIDs,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("embeddings: enqueue reindex: %w", err)
	}
	return jobID, len(photoIDs), nil
}

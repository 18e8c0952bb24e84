package embeddings_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/embeddings"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(context.Background(), path, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestMigrateModel_SwitchesCanonicalAndScopesReindex(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)

	var folderID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		folderID, txErr = store.UpsertFolder(ctx, tx, nil, "/p", "p")
		return txErr
	}))
	for _, path := range []string{"/p/a.jpg", "/p/b.jpg"} {
		require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
			_, txErr := store.UpsertPhoto(ctx, tx, &models.PhotoMetadata{
				Path: path, FolderID: folderID, ProjectID: projectID,
				SizeKB: 10, Modified: time.Now(), CreatedTS: time.Now(),
			})
			return txErr
		}))
	}

	jobID, count, err := embeddings.MigrateModel(ctx, store, projectID, "clip-vit-l14")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "neither photo has an embedding yet under any model")
	assert.Positive(t, jobID)

	project, err := store.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, "clip-vit-l14", project.SemanticModel)

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	var cfg models.SemanticEmbedConfig
	require.NoError(t, job.Config(&cfg))
	assert.Equal(t, "clip-vit-l14", cfg.Model)
	assert.Len(t, cfg.PhotoIDs, 2)
}

func TestReindexSet_EmptyWhenProjectHasNoPhotos(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)

	ids, err := embeddings.ReindexSet(ctx, store, projectID, "clip-vit-b32")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

package faces

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

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

func seedPhoto(t *testing.T, store *storage.Store, projectID, folderID int64, path string) int64 {
	t.Helper()
	ctx := context.Background()
	var photoID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		photoID, err = store.UpsertPhoto(ctx, tx, &models.PhotoMetadata{
			Path: path, FolderID: folderID, ProjectID: projectID,
			SizeKB: 10, Modified: time.Now(), CreatedTS: time.Now(),
		})
		return err
	}))
	return photoID
}

func TestBranchPhotos_RanksByCosineSimilarityAgainstRepresentative(t *testing.T) {
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

	repPhoto := seedPhoto(t, store, projectID, folderID, "/p/rep.jpg")
	closePhoto := seedPhoto(t, store, projectID, folderID, "/p/close.jpg")
	farPhoto := seedPhoto(t, store, projectID, folderID, "/p/far.jpg")

	const branchKey = "face_001"
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		_, txErr := store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID, BranchKey: strPtr(branchKey), ImagePath: "/p/rep.jpg", CropPath: "rep.png",
			Embedding: packEmbedding([]float32{1, 0, 0}), IsRepresentative: true,
		})
		if txErr != nil {
			return txErr
		}
		if _, txErr = store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID, BranchKey: strPtr(branchKey), ImagePath: "/p/close.jpg", CropPath: "close.png",
			Embedding: packEmbedding([]float32{0.99, 0.01, 0}),
		}); txErr != nil {
			return txErr
		}
		_, txErr = store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID, BranchKey: strPtr(branchKey), ImagePath: "/p/far.jpg", CropPath: "far.png",
			Embedding: packEmbedding([]float32{0, 1, 0}),
		})
		return txErr
	}))

	results, err := BranchPhotos(ctx, store, projectID, branchKey, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byPhoto := make(map[int64]BranchPhoto, len(results))
	for _, r := range results {
		byPhoto[r.PhotoID] = r
	}

	assert.InDelta(t, 1.0, byPhoto[repPhoto].Score, 1e-6)
	assert.True(t, byPhoto[repPhoto].IsRepresentative)
	assert.Greater(t, byPhoto[closePhoto].Score, byPhoto[farPhoto].Score)
	assert.InDelta(t, 0.0, byPhoto[farPhoto].Score, 1e-6)

	assert.Equal(t, repPhoto, results[0].PhotoID, "the representative sorts first")
}

func TestBranchPhotos_ThresholdDropsLowScoringPhotos(t *testing.T) {
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

	seedPhoto(t, store, projectID, folderID, "/p/rep.jpg")
	seedPhoto(t, store, projectID, folderID, "/p/far.jpg")

	const branchKey = "face_001"
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID, BranchKey: strPtr(branchKey), ImagePath: "/p/rep.jpg", CropPath: "rep.png",
			Embedding: packEmbedding([]float32{1, 0, 0}), IsRepresentative: true,
		}); err != nil {
			return err
		}
		_, err := store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID, BranchKey: strPtr(branchKey), ImagePath: "/p/far.jpg", CropPath: "far.png",
			Embedding: packEmbedding([]float32{0, 1, 0}),
		})
		return err
	}))

	results, err := BranchPhotos(ctx, store, projectID, branchKey, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsRepresentative)
}

func strPtr(s string) *string { return &s }

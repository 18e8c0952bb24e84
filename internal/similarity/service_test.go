package similarity_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/apperr"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/similarity"
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

func seedPhotoWithAsset(t *testing.T, store *storage.Store, projectID, folderID int64, path, hash string) int64 {
	t.Helper()
	ctx := context.Background()
	var photoID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		photoID, err = store.UpsertPhoto(ctx, tx, &models.PhotoMetadata{
			Path: path, FolderID: folderID, ProjectID: projectID,
			SizeKB: 10, Modified: time.Now(), CreatedTS: time.Now(),
		})
		if err != nil {
			return err
		}
		assetID, err := store.UpsertAsset(ctx, tx, projectID, hash, 0, photoID)
		if err != nil {
			return err
		}
		return store.LinkInstance(ctx, tx, projectID, assetID, photoID)
	}))
	return photoID
}

func TestSearchByPhoto_MissingEmbeddingReturnsNotReady(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)
	require.NoError(t, store.SetSemanticModel(ctx, projectID, "clip-vit-b32"))

	var folderID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		folderID, txErr = store.UpsertFolder(ctx, tx, nil, "/p", "p")
		return txErr
	}))
	photoID := seedPhotoWithAsset(t, store, projectID, folderID, "/p/a.jpg", "hash-a")

	svc, err := similarity.NewServiceForProject(ctx, store, nil, projectID)
	require.NoError(t, err)

	_, err = svc.SearchByPhoto(ctx, photoID, 0, 10)
	var notReady *apperr.EmbeddingNotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, "missing", notReady.Reason)
}

func TestSearchByPhoto_StaleContentHashReturnsNotReady(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)
	const model = "clip-vit-b32"
	require.NoError(t, store.SetSemanticModel(ctx, projectID, model))

	var folderID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		folderID, txErr = store.UpsertFolder(ctx, tx, nil, "/p", "p")
		return txErr
	}))
	photoID := seedPhotoWithAsset(t, store, projectID, folderID, "/p/a.jpg", "hash-current")

	blob, dim := similarity.PackFloat32([]float32{1, 0, 0})
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertEmbedding(ctx, tx, &models.SemanticEmbedding{
			PhotoID: photoID, Model: model, Embedding: blob, Dim: dim,
			SourceHash: "hash-stale-from-before-a-reedit",
		})
	}))

	svc, err := similarity.NewServiceForProject(ctx, store, nil, projectID)
	require.NoError(t, err)

	_, err = svc.SearchByPhoto(ctx, photoID, 0, 10)
	var notReady *apperr.EmbeddingNotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, "hash_mismatch", notReady.Reason)
}

func TestSearchByPhoto_ExcludesAssetSiblingsFromResults(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)
	const model = "clip-vit-b32"
	require.NoError(t, store.SetSemanticModel(ctx, projectID, model))

	var folderID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		folderID, txErr = store.UpsertFolder(ctx, tx, nil, "/p", "p")
		return txErr
	}))

	// photoA and photoB are exact-duplicate instances of the same asset;
	// photoC is a distinct, highly similar photo.
	photoA := seedPhotoWithAsset(t, store, projectID, folderID, "/p/a.jpg", "hash-shared")
	ctxForLink := context.Background()
	var photoB int64
	require.NoError(t, store.WithTx(ctxForLink, func(tx *sql.Tx) error {
		var err error
		photoB, err = store.UpsertPhoto(ctxForLink, tx, &models.PhotoMetadata{
			Path: "/p/a-copy.jpg", FolderID: folderID, ProjectID: projectID,
			SizeKB: 10, Modified: time.Now(), CreatedTS: time.Now(),
		})
		if err != nil {
			return err
		}
		assetID, err := store.UpsertAsset(ctx, tx, projectID, "hash-shared", 0, photoA)
		if err != nil {
			return err
		}
		return store.LinkInstance(ctx, tx, projectID, assetID, photoB)
	}))
	photoC := seedPhotoWithAsset(t, store, projectID, folderID, "/p/c.jpg", "hash-distinct")

	for _, id := range []int64{photoA, photoB, photoC} {
		hash, err := store.ContentHashForPhoto(ctx, id)
		require.NoError(t, err)
		blob, dim := similarity.PackFloat32([]float32{1, 0, 0})
		require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.UpsertEmbedding(ctx, tx, &models.SemanticEmbedding{
				PhotoID: id, Model: model, Embedding: blob, Dim: dim, SourceHash: hash,
			})
		}))
	}

	svc, err := similarity.NewServiceForProject(ctx, store, nil, projectID)
	require.NoError(t, err)

	results, err := svc.SearchByPhoto(ctx, photoA, 0, 10)
	require.NoError(t, err)

	var gotIDs []int64
	for _, r := range results {
		gotIDs = append(gotIDs, r.PhotoID)
	}
	assert.NotContains(t, gotIDs, photoA, "a photo never matches itself")
	assert.NotContains(t, gotIDs, photoB, "an exact-duplicate instance is excluded")
	assert.Contains(t, gotIDs, photoC)
}

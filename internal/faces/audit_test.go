package faces

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/models"
)

func TestAuditCorruptPaths_RepairsWhenOriginalStillExists(t *testing.T) {
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

	originalPath := filepath.Join(t.TempDir(), "IMG_1234.jpg")
	require.NoError(t, os.WriteFile(originalPath, []byte("jpeg"), 0o644))
	seedPhoto(t, store, projectID, folderID, originalPath)

	var cropID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		cropID, txErr = store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID,
			ImagePath: "/p/.face_crops/IMG_1234_face0.jpg",
			CropPath:  "/p/.face_crops/IMG_1234_face0.jpg",
		})
		return txErr
	}))

	repaired, quarantined, err := AuditCorruptPaths(ctx, store, projectID, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.Equal(t, 0, quarantined)

	var gotPath string
	require.NoError(t, store.DB().QueryRow(`SELECT image_path FROM face_crops WHERE id = ?`, cropID).Scan(&gotPath))
	assert.Equal(t, originalPath, gotPath)
}

func TestAuditCorruptPaths_QuarantinesWhenUnrecoverable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)

	var cropID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		cropID, txErr = store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID:        projectID,
			BranchKey:        strPtr("face_007"),
			ImagePath:        "/p/.face_crops/missing_face0.jpg",
			CropPath:         "/p/.face_crops/missing_face0.jpg",
			IsRepresentative: true,
		})
		return txErr
	}))

	repaired, quarantined, err := AuditCorruptPaths(ctx, store, projectID, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
	assert.Equal(t, 1, quarantined)

	var branchKey sql.NullString
	var isRep bool
	require.NoError(t, store.DB().QueryRow(`SELECT branch_key, is_representative FROM face_crops WHERE id = ?`, cropID).Scan(&branchKey, &isRep))
	assert.False(t, branchKey.Valid)
	assert.False(t, isRep)
}

func TestPruneOrphanedManualCrops_DeletesCropsWithoutBranchRep(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID, BranchKey: strPtr("manual_abc"), ImagePath: "/p/a.jpg", CropPath: "a.png",
		})
		return err
	}))

	pruned, err := PruneOrphanedManualCrops(ctx, store, projectID, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	var remaining int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM face_crops WHERE project_id = ?`, projectID).Scan(&remaining))
	assert.Zero(t, remaining)
}

func TestPruneOrphanedManualCrops_KeepsCropsWithBranchRep(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID, BranchKey: strPtr("manual_abc"), ImagePath: "/p/a.jpg", CropPath: "a.png",
		}); err != nil {
			return err
		}
		return store.UpsertBranchRep(ctx, tx, &models.FaceBranch{
			ProjectID: projectID, BranchKey: "manual_abc", Count: 1,
		})
	}))

	pruned, err := PruneOrphanedManualCrops(ctx, store, projectID, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)
}

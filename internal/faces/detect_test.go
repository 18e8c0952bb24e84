package faces

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/actions"
	"github.com/reflib/libraryd/internal/jobs"
	"github.com/reflib/libraryd/internal/mlcontract"
	"github.com/reflib/libraryd/internal/models"
)

// stubDetector always reports one detection for any path, with a
// caller-controlled version so tests can simulate a detector upgrade.
type stubDetector struct{ version string }

func (d *stubDetector) DetectFaces(ctx context.Context, imagePath string) ([]mlcontract.FaceDetection, error) {
	return []mlcontract.FaceDetection{{Confidence: 0.9, Right: 1, Bottom: 1, Embedding: []float32{1, 0, 0}}}, nil
}
func (d *stubDetector) Version() string { return d.version }

func TestDetect_IdempotentUnderSameDetectorVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	log := zap.NewNop().Sugar()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)
	var folderID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		folderID, txErr = store.UpsertFolder(ctx, tx, nil, "/p", "p")
		return txErr
	}))
	photoID := seedPhoto(t, store, projectID, folderID, "/p/a.jpg")
	require.NoError(t, store.SetFacesStatus(ctx, photoID, "done"))
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID, ImagePath: "/p/a.jpg", CropPath: "a.png", DetectorVersion: "v1",
		})
		return err
	}))

	detector := &stubDetector{version: "v1"}
	dispatch := actions.NewStore(log)
	manager := jobs.NewManager(store, log, "test-owner", time.Minute)
	manager.Register(models.KindFacesDetect, 1, NewDetectHandler(store, detector, dispatch, log))

	jobID, err := store.EnqueueJob(ctx, projectID, models.KindFacesDetect, models.FacesDetectConfig{Scope: "all"})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	manager.Start(runCtx)
	assert.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, jobID)
		return err == nil && job.State == models.JobDone
	}, 5*time.Second, 20*time.Millisecond)
	manager.Stop()

	crops, err := store.UnclusteredFaceCrops(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, crops, 1, "same detector_version: no re-detection, original crop untouched")
}

func TestDetect_DetectorUpgradeTriggersRedetection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	log := zap.NewNop().Sugar()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)
	var folderID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		folderID, txErr = store.UpsertFolder(ctx, tx, nil, "/p", "p")
		return txErr
	}))
	photoID := seedPhoto(t, store, projectID, folderID, "/p/a.jpg")
	require.NoError(t, store.SetFacesStatus(ctx, photoID, "done"))
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := store.InsertFaceCrop(ctx, tx, &models.FaceCrop{
			ProjectID: projectID, ImagePath: "/p/a.jpg", CropPath: "a.png", DetectorVersion: "v1",
		})
		return err
	}))

	detector := &stubDetector{version: "v2"}
	dispatch := actions.NewStore(log)
	manager := jobs.NewManager(store, log, "test-owner", time.Minute)
	manager.Register(models.KindFacesDetect, 1, NewDetectHandler(store, detector, dispatch, log))

	jobID, err := store.EnqueueJob(ctx, projectID, models.KindFacesDetect, models.FacesDetectConfig{Scope: "all"})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	manager.Start(runCtx)
	assert.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, jobID)
		return err == nil && job.State == models.JobDone
	}, 5*time.Second, 20*time.Millisecond)
	manager.Stop()

	crops, err := store.UnclusteredFaceCrops(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, crops, 1, "stale v1 crop replaced by exactly one fresh v2 crop")
	assert.Equal(t, "v2", crops[0].DetectorVersion)
}

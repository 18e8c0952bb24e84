package jobs_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/jobs"
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

func TestManager_RunsRegisteredHandlerAndMarksJobDone(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)

	jobID, err := store.EnqueueJob(ctx, projectID, models.KindScan, models.ScanConfig{Root: "/p"})
	require.NoError(t, err)

	handled := make(chan int64, 1)
	manager := jobs.NewManager(store, zap.NewNop().Sugar(), "test-owner", time.Minute)
	manager.Register(models.KindScan, 1, func(ctx context.Context, run *jobs.Runner, job *models.MLJob) error {
		handled <- job.ID
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	manager.Start(runCtx)

	select {
	case got := <-handled:
		assert.Equal(t, jobID, got)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	manager.Stop()

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, job.State)
}

func TestManager_FailedHandlerMarksJobFailedWithMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)

	jobID, err := store.EnqueueJob(ctx, projectID, models.KindScan, models.ScanConfig{Root: "/p"})
	require.NoError(t, err)

	manager := jobs.NewManager(store, zap.NewNop().Sugar(), "test-owner", time.Minute)
	done := make(chan struct{})
	manager.Register(models.KindScan, 1, func(ctx context.Context, run *jobs.Runner, job *models.MLJob) error {
		defer close(done)
		return assert.AnError
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	manager.Start(runCtx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	// give FinishJob's write a moment to land after the handler returns.
	assert.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, jobID)
		return err == nil && job.State == models.JobFailed
	}, 2*time.Second, 20*time.Millisecond)

	manager.Stop()

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
	assert.NotEmpty(t, job.Error)
}

func TestUpdateProgress_PersistsCountersAndCheckpoint(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	projectID, err := store.CreateProject(ctx, &models.Project{Name: "p", Folder: "/p", Mode: "local"})
	require.NoError(t, err)
	jobID, err := store.EnqueueJob(ctx, projectID, models.KindScan, models.ScanConfig{Root: "/p"})
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, jobID, 5, 10, 5))

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), job.Processed)
	assert.Equal(t, int64(10), job.Total)
	assert.Equal(t, int64(5), job.CheckpointID)
}

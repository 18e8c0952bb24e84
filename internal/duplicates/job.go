package duplicates

import (
	"context"
	"fmt"

	"github.com/reflib/libraryd/internal/actions"
	"github.com/reflib/libraryd/internal/jobs"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
)

// GroupConfig is the job configuration blob for models.KindDuplicateGroup.
// Threshold <= 0 uses DefaultThreshold.
type GroupConfig struct {
	Threshold int `json:"threshold"`
}

// NewGroupHandler builds the jobs.Handler for models.KindDuplicateGroup:
// recompute the similar-photo stacks and dispatch DuplicatesCompleted so
// observers re-query both the exact-duplicate view and the stack view
// (the two groupings are reported together since both derive from the
// same asset layer and a caller showing one almost always wants the
// other refreshed too).
func NewGroupHandler(store *storage.Store, dispatch *actions.Store) jobs.Handler {
	return func(ctx context.Context, run *jobs.Runner, job *models.MLJob) error {
		var cfg GroupConfig
		if err := job.Config(&cfg); err != nil {
			return fmt.Errorf("duplicates: decode config: %w", err)
		}

		stackCount, memberCount, err := RunSimilarStacking(ctx, store, job.ProjectID, cfg.Threshold)
		if err != nil {
			return err
		}
		if err := run.Progress(ctx, int64(memberCount), int64(memberCount), 0); err != nil {
			return err
		}

		exact, err := store.ExactDuplicateGroups(ctx, job.ProjectID)
		if err != nil {
			return fmt.Errorf("duplicates: load exact groups: %w", err)
		}

		dispatch.Dispatch(actions.DuplicatesCompleted{
			Meta:          dispatch.MakeMeta("duplicates"),
			JobID:         job.ID,
			ExactGroups:   int64(len(exact)),
			SimilarStacks: int64(stackCount),
		})
		return nil
	}
}

// Package groups rebuilds the materialized AND-match cache for
// user-defined person groups (a set of face branches whose intersection
// of appearances defines "photos containing all of these people").
// Grounded on internal/storage/groups.go's already-written
// StalePersonGroups/GroupMembers/PhotosContainingBranch/RebuildGroupMatches,
// this package supplies the job-kind wiring spec.md §4.7 calls group_index.
package groups

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/actions"
	"github.com/reflib/libraryd/internal/jobs"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
)

// NewIndexHandler builds the jobs.Handler for models.KindGroupIndex: for
// every stale group in the project, intersect each member branch's photo
// set and persist the result as the group's match cache.
func NewIndexHandler(store *storage.Store, dispatch *actions.Store, log *zap.SugaredLogger) jobs.Handler {
	return func(ctx context.Context, run *jobs.Runner, job *models.MLJob) error {
		staleIDs, err := store.StalePersonGroups(ctx, job.ProjectID)
		if err != nil {
			return fmt.Errorf("groups: list stale: %w", err)
		}

		for i, groupID := range staleIDs {
			if run.ShouldCancel() {
				return nil
			}
			matches, err := rebuildOne(ctx, store, job.ProjectID, groupID)
			if err != nil {
				return fmt.Errorf("groups: rebuild group %d: %w", groupID, err)
			}
			dispatch.Dispatch(actions.GroupIndexCompleted{
				Meta:       dispatch.MakeMeta("group_index"),
				GroupID:    groupID,
				MatchCount: int64(matches),
			})
			if err := run.Progress(ctx, int64(i+1), int64(len(staleIDs)), int64(i+1)); err != nil {
				return err
			}
		}
		log.Infow("groups: index complete", "project_id", job.ProjectID, "rebuilt", len(staleIDs))
		return nil
	}
}

// rebuildOne intersects the photo sets of every branch in a group and
// writes the result as the group's materialized match cache. A group
// with no members matches nothing (vacuous AND is not "everything").
func rebuildOne(ctx context.Context, store *storage.Store, projectID, groupID int64) (int, error) {
	branchKeys, err := store.GroupMembers(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("load members: %w", err)
	}
	if len(branchKeys) == 0 {
		if err := store.RebuildGroupMatches(ctx, groupID, nil); err != nil {
			return 0, err
		}
		return 0, nil
	}

	var intersection map[int64]bool
	for _, bk := range branchKeys {
		photos, err := store.PhotosContainingBranch(ctx, projectID, bk)
		if err != nil {
			return 0, fmt.Errorf("photos for branch %s: %w", bk, err)
		}
		if intersection == nil {
			intersection = photos
			continue
		}
		for id := range intersection {
			if !photos[id] {
				delete(intersection, id)
			}
		}
	}

	ids := make([]int64, 0, len(intersection))
	for id := range intersection {
		ids = append(ids, id)
	}
	if err := store.RebuildGroupMatches(ctx, groupID, ids); err != nil {
		return 0, fmt.Errorf("persist matches: %w", err)
	}
	return len(ids), nil
}

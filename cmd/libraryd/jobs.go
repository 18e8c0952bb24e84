package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reflib/libraryd/internal/models"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control persistent jobs",
	}
	cmd.AddCommand(
		newJobsListCmd(),
		newJobsRetryCmd(),
		newJobsPauseCmd(),
		newJobsResumeCmd(),
		newJobsCancelCmd(),
	)
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs for a project, optionally filtered by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			_, store, _, err := openEnv(ctx)
			if err != nil {
				return err
			}
			jobs, err := store.ListJobs(ctx, projectID, models.JobKind(kind))
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			for _, j := range jobs {
				fmt.Printf("%d\t%s\t%s\t%d/%d\t%s\n", j.ID, j.Kind, j.State, j.Processed, j.Total, j.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "job kind filter, empty for all kinds")
	return cmd
}

// newJobsRetryCmd re-enqueues a finished job's exact config as a fresh
// job, since a failed lease row is never reused directly (the state
// machine has no "requeue in place" transition, only terminal states).
func newJobsRetryCmd() *cobra.Command {
	var jobID int64
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-enqueue a failed or canceled job with its original config",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, _, err := openEnv(ctx)
			if err != nil {
				return err
			}
			job, err := store.GetJob(ctx, jobID)
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			if !job.IsTerminal() {
				return fmt.Errorf("job %d is still %s, cannot retry", job.ID, job.State)
			}
			var raw json.RawMessage = []byte(job.ConfigJSON)
			if job.ConfigJSON == "" {
				raw = json.RawMessage("{}")
			}
			newID, err := store.EnqueueJob(ctx, job.ProjectID, job.Kind, raw)
			if err != nil {
				return fmt.Errorf("re-enqueue: %w", err)
			}
			fmt.Printf("re-enqueued job %d as job %d\n", job.ID, newID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id to retry")
	return cmd
}

func newJobsPauseCmd() *cobra.Command {
	var jobID int64
	var global bool
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause one job, or every job in the queue with --global",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, _, err := openEnv(ctx)
			if err != nil {
				return err
			}
			if global {
				return store.SetGlobalPause(ctx, true)
			}
			if jobID == 0 {
				return fmt.Errorf("--job or --global is required")
			}
			return store.SetPaused(ctx, jobID, true)
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id to pause")
	cmd.Flags().BoolVar(&global, "global", false, "pause the entire queue")
	return cmd
}

func newJobsResumeCmd() *cobra.Command {
	var jobID int64
	var global bool
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume one job, or the whole queue with --global",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, _, err := openEnv(ctx)
			if err != nil {
				return err
			}
			if global {
				return store.SetGlobalPause(ctx, false)
			}
			if jobID == 0 {
				return fmt.Errorf("--job or --global is required")
			}
			return store.SetPaused(ctx, jobID, false)
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id to resume")
	cmd.Flags().BoolVar(&global, "global", false, "resume the entire queue")
	return cmd
}

func newJobsCancelCmd() *cobra.Command {
	var jobID int64
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Request cooperative cancellation of a running job",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if jobID == 0 {
				return fmt.Errorf("--job is required")
			}
			_, store, _, err := openEnv(ctx)
			if err != nil {
				return err
			}
			return store.RequestCancel(ctx, jobID)
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id to cancel")
	return cmd
}

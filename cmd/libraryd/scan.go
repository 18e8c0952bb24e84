package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reflib/libraryd/internal/models"
)

func newScanCmd() *cobra.Command {
	var (
		root        string
		incremental bool
		mtp         bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Enqueue a library scan over a filesystem root (or an MTP device path)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			if root == "" {
				return fmt.Errorf("--root is required")
			}

			_, store, _, err := openEnv(ctx)
			if err != nil {
				return err
			}

			jobID, err := store.EnqueueJob(ctx, projectID, models.KindScan, models.ScanConfig{
				Root:        root,
				Incremental: incremental,
				MTP:         mtp,
			})
			if err != nil {
				return fmt.Errorf("enqueue scan: %w", err)
			}
			fmt.Printf("enqueued scan job %d for project %d\n", jobID, projectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "filesystem root to walk, or the device path when --mtp is set")
	cmd.Flags().BoolVar(&incremental, "incremental", true, "skip files whose size and mtime match the stored row")
	cmd.Flags().BoolVar(&mtp, "mtp", false, "treat --root as an MTP device path and copy to a scratch dir first")
	return cmd
}

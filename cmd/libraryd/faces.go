package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reflib/libraryd/internal/faces"
)

func newFacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faces",
		Short: "Maintenance utilities for the face pipeline",
	}
	cmd.AddCommand(newFacesAuditCmd(), newFacesPruneCmd())
	return cmd
}

func newFacesAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Repair or quarantine face_crops rows with a corrupt image_path",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			_, store, log, err := openEnv(ctx)
			if err != nil {
				return err
			}
			repaired, quarantined, err := faces.AuditCorruptPaths(ctx, store, projectID, log)
			if err != nil {
				return fmt.Errorf("audit face crops: %w", err)
			}
			fmt.Printf("repaired %d, quarantined %d\n", repaired, quarantined)
			return nil
		},
	}
}

func newFacesPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune-orphans",
		Short: "Delete manual-branch face crops whose branch summary is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			_, store, log, err := openEnv(ctx)
			if err != nil {
				return err
			}
			pruned, err := faces.PruneOrphanedManualCrops(ctx, store, projectID, log)
			if err != nil {
				return fmt.Errorf("prune orphaned face crops: %w", err)
			}
			fmt.Printf("pruned %d\n", pruned)
			return nil
		},
	}
}

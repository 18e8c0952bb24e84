package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reflib/libraryd/internal/embeddings"
)

func newMigrateCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Switch a project's canonical semantic model and enqueue a reindex of the gap",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			if model == "" {
				return fmt.Errorf("--model is required")
			}
			_, store, _, err := openEnv(ctx)
			if err != nil {
				return err
			}
			jobID, count, err := embeddings.MigrateModel(ctx, store, projectID, model)
			if err != nil {
				return fmt.Errorf("migrate model: %w", err)
			}
			fmt.Printf("project %d now canonical on %q, reindex job %d covers %d photos\n", projectID, model, jobID, count)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "new canonical semantic model name")
	return cmd
}

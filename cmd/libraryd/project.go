package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reflib/libraryd/internal/models"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and list projects",
	}
	cmd.AddCommand(newProjectCreateCmd(), newProjectListCmd())
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	var name, folder, mode string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project rooted at a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if name == "" || folder == "" {
				return fmt.Errorf("--name and --folder are required")
			}
			cfg, store, _, err := openEnv(ctx)
			if err != nil {
				return err
			}
			id, err := store.CreateProject(ctx, &models.Project{
				Name:              name,
				Folder:            folder,
				Mode:              mode,
				ClusterEps:        cfg.ClusterEps(),
				ClusterMinSamples: cfg.ClusterMinSamples(),
			})
			if err != nil {
				return fmt.Errorf("create project: %w", err)
			}
			fmt.Printf("created project %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&folder, "folder", "", "project root folder")
	cmd.Flags().StringVar(&mode, "mode", "local", "project mode")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, _, err := openEnv(ctx)
			if err != nil {
				return err
			}
			projects, err := store.ListProjects(ctx)
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			for _, p := range projects {
				fmt.Printf("%d\t%s\t%s\t%s\n", p.ID, p.Name, p.Folder, p.SemanticModel)
			}
			return nil
		},
	}
}

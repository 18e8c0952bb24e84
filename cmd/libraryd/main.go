// Command libraryd is the engine's CLI entrypoint: subcommands for
// running a scan, serving the persistent job queue, inspecting and
// controlling jobs, and migrating a project's semantic model. It
// replaces the teacher's env-switch main() (WORKER_MODE deciding
// between a one-shot subprocess call and a standalone queue consumer)
// with a conventional Cobra command tree, but keeps its
// signal-driven graceful shutdown inside the serve subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagDBPath     string
	flagProjectID  int64
)

func main() {
	root := &cobra.Command{
		Use:   "libraryd",
		Short: "Local-first photo and video library engine",
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flagDBPath, "db", "", "path to the library database (overrides config db.path)")
	root.PersistentFlags().Int64Var(&flagProjectID, "project", 0, "project id (required by most subcommands)")

	root.AddCommand(
		newScanCmd(),
		newServeCmd(),
		newJobsCmd(),
		newMigrateCmd(),
		newProjectCmd(),
		newFacesCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reflib/libraryd/internal/actions"
	"github.com/reflib/libraryd/internal/duplicates"
	"github.com/reflib/libraryd/internal/embeddings"
	"github.com/reflib/libraryd/internal/faces"
	"github.com/reflib/libraryd/internal/groups"
	"github.com/reflib/libraryd/internal/ingest"
	"github.com/reflib/libraryd/internal/jobs"
	"github.com/reflib/libraryd/internal/mlcontract"
	"github.com/reflib/libraryd/internal/models"
)

// newServeCmd builds the long-running queue-consumer subcommand: it
// registers every job kind's handler against the persistent manager and
// blocks until SIGINT/SIGTERM, the same shutdown shape the teacher's
// runStandaloneMode used around its Redis consumer, rehosted onto the
// embedded job manager.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the persistent job queue consumer until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, store, log, err := openEnv(ctx)
			if err != nil {
				return err
			}

			dispatch := actions.NewStore(log)

			poll := mlcontract.PollingConfig{Interval: cfg.BackendPolling(), Timeout: cfg.BackendTimeout()}
			detector := mlcontract.NewHTTPBackend(cfg.DetectorURL(), cfg.DetectorModel(), 0, poll)
			embedder := mlcontract.NewHTTPBackend(cfg.EmbedderURL(), cfg.EmbedderModel(), cfg.EmbedderDim(), poll)

			hostname, _ := os.Hostname()
			owner := fmt.Sprintf("%s:%d", hostname, os.Getpid())
			manager := jobs.NewManager(store, log, owner, cfg.LeaseDuration())

			register := func(kind models.JobKind, h jobs.Handler) {
				n := cfg.PerKindConcurrency(string(kind))
				if n <= 0 {
					n = 1
				}
				manager.Register(kind, n, h)
			}

			register(models.KindScan, ingest.NewScanHandler(store, cfg, dispatch, log))
			register(models.KindFacesDetect, faces.NewDetectHandler(store, detector, dispatch, log))
			register(models.KindFacesEmbed, faces.NewEmbedHandler(store, detector, dispatch, log))
			register(models.KindFacesCluster, faces.NewClusterHandler(store, dispatch, log))
			register(models.KindSemanticEmbed, embeddings.NewHandler(store, embedder, dispatch, log))
			register(models.KindDuplicateGroup, duplicates.NewGroupHandler(store, dispatch))
			register(models.KindGroupIndex, groups.NewIndexHandler(store, dispatch, log))
			// duplicate_hash and mtp_copy are not independently dispatchable:
			// content hashing happens inline during scan derivation, and MTP
			// copy runs synchronously at the top of the scan handler. Both
			// enum values exist for forward API compatibility with a future
			// standalone dispatch, not because this manager leaves them
			// unhandled by oversight.

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			manager.Start(runCtx)
			log.Infow("libraryd serving", "pid", os.Getpid())

			<-runCtx.Done()
			log.Infow("shutdown signal received, draining in-flight jobs")

			done := make(chan struct{})
			go func() {
				manager.Stop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(30 * time.Second):
				log.Warnw("timed out waiting for jobs to drain")
			}
			return nil
		},
	}
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/facegate/internal/audit"
	"github.com/saturnino-fabrica-de-software/facegate/internal/repository"
	"github.com/saturnino-fabrica-de-software/facegate/internal/service"
)

func newReconcileCmd(e *env) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between the index and the embedding records",
		Long: `Tombstones index slots that no embedding record backs and flags records
whose slot is not mapped to their identity for re-enrollment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pool, err := e.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			ix, err := e.openIndex()
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()

			reconciler := service.NewReconciler(ix, repository.NewEmbeddingRecordRepository(pool), e.logger).
				WithAudit(audit.NewSlogLogger(e.logger))
			report, err := reconciler.Run(ctx, dryRun)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report drift without changing anything")

	return cmd
}

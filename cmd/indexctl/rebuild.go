package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/facegate/internal/audit"
	"github.com/saturnino-fabrica-de-software/facegate/internal/repository"
	"github.com/saturnino-fabrica-de-software/facegate/internal/service"
)

const (
	sourceIndex = "index"
	sourceStore = "store"
)

func newRebuildCmd(e *env) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index without tombstones",
		Long: `Rebuilds the index with dense slots and rewrites record slot ids to match.

  --from=index  compacts the index from its own live entries
  --from=store  reconstructs the index from the embeddings kept in Postgres`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != sourceIndex && from != sourceStore {
				return fmt.Errorf("invalid --from %q (use: %s, %s)", from, sourceIndex, sourceStore)
			}

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

			var bar *progressbar.ProgressBar
			reconciler := service.NewReconciler(ix, repository.NewEmbeddingRecordRepository(pool), e.logger).
				WithAudit(audit.NewSlogLogger(e.logger)).
				WithProgress(func(done, total int) {
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetWriter(cmd.ErrOrStderr()),
							progressbar.OptionSetDescription("Loading embeddings"),
							progressbar.OptionShowCount(),
							progressbar.OptionSetItsString("records"),
							progressbar.OptionShowElapsedTimeOnFinish(),
							progressbar.OptionFullWidth(),
						)
					}
					_ = bar.Set(done)
				})

			var report *service.RebuildReport
			if from == sourceStore {
				report, err = reconciler.RebuildFromStore(ctx)
			} else {
				report, err = reconciler.Compact(ctx)
			}
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&from, "from", sourceIndex, "Rebuild source: index or store")

	return cmd
}

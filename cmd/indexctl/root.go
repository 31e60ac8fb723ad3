package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/facegate/internal/config"
	"github.com/saturnino-fabrica-de-software/facegate/internal/database"
	"github.com/saturnino-fabrica-de-software/facegate/internal/vectorindex"
)

// env carries what every subcommand needs, loaded once before it runs.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}
	var indexDir string

	root := &cobra.Command{
		Use:   "indexctl",
		Short: "Offline maintenance for the FaceGate vector index",
		Long: `indexctl inspects, repairs, compacts and backs up the vector index.

Configuration is read from the environment (and an optional .env file),
the same way the API server reads it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if indexDir != "" {
				cfg.IndexDir = indexDir
			}
			e.cfg = cfg
			e.logger = config.NewLogger(cmd.ErrOrStderr(), cfg.Environment, cfg.LogLevel)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&indexDir, "index-dir", "", "Index directory (overrides INDEX_DIR)")

	root.AddCommand(
		newStatsCmd(e),
		newReconcileCmd(e),
		newRebuildCmd(e),
		newBackupCmd(e),
		newRestoreCmd(e),
	)

	return root
}

func (e *env) openIndex() (*vectorindex.Index, error) {
	ix, err := vectorindex.Open(vectorindex.Config{
		Dir:       e.cfg.IndexDir,
		Dimension: e.cfg.IndexDimension,
		Metric:    vectorindex.Metric(e.cfg.DistanceMetric),
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	return ix, nil
}

func (e *env) connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, database.DefaultPoolConfig(e.cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/facegate/internal/backup"
)

func (e *env) backupStore(cmd *cobra.Command) (*backup.Store, error) {
	if e.cfg.BackupBucket == "" {
		return nil, errors.New("BACKUP_BUCKET is not set")
	}

	client, err := backup.NewS3Client(cmd.Context(), backup.Config{
		Bucket:   e.cfg.BackupBucket,
		Prefix:   e.cfg.BackupPrefix,
		Region:   e.cfg.AWSRegion,
		Endpoint: e.cfg.BackupEndpoint,
	})
	if err != nil {
		return nil, err
	}

	return backup.NewStore(client, e.cfg.BackupBucket, e.cfg.BackupPrefix, e.logger), nil
}

func newBackupCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload a compressed index snapshot to S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.backupStore(cmd)
			if err != nil {
				return err
			}

			ix, err := e.openIndex()
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()

			snap, err := store.Upload(cmd.Context(), ix)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), snap)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List uploaded snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.backupStore(cmd)
			if err != nil {
				return err
			}

			snapshots, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snapshots)
		},
	})

	return cmd
}

func newRestoreCmd(e *env) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the local index with a snapshot from S3",
		Long: `Downloads a snapshot (the newest one unless --key is given) and unpacks it
into the index directory. Run reconcile afterwards: records enrolled after
the snapshot was taken are flagged for re-enrollment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.backupStore(cmd)
			if err != nil {
				return err
			}

			restored, err := store.Restore(cmd.Context(), key, e.cfg.IndexDir, e.cfg.IndexDimension)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored %s into %s\n", restored, e.cfg.IndexDir)
			return err
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Snapshot key (default: newest)")

	return cmd
}

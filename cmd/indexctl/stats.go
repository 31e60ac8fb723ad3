package main

import (
	"github.com/spf13/cobra"
)

func newStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index size, live count and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := e.openIndex()
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()

			return printJSON(cmd.OutOrStdout(), ix.Stats())
		},
	}
}

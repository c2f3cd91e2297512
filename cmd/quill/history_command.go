package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"quill/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent update attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ledger, err := history.Open(cfg.HistoryDBPath())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer ledger.Close()

			records, err := ledger.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No update attempts recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				remote := rec.RemoteVersion
				if remote == "" {
					remote = "-"
				}
				rows = append(rows, []string{
					humanize.Time(rec.StartedAt),
					rec.LocalVersion,
					remote,
					rec.Outcome,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"When", "Local", "Remote", "Outcome"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum attempts to show")
	return cmd
}

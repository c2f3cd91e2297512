package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quill/internal/fileutil"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the tail of the bootstrap log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(cfg.BootstrapLogPath())
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					fmt.Fprintln(cmd.OutOrStdout(), "No bootstrap log yet.")
					return nil
				}
				return fmt.Errorf("read bootstrap log: %w", err)
			}
			for _, line := range fileutil.TailLines(string(raw), lines) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 40, "Number of trailing lines to show")
	return cmd
}

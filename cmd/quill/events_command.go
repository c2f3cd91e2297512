package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/state"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print and consume pending startup events",
		Long: "Prints the startup event log the bootstrapper left for the application " +
			"and deletes it. Each event is delivered exactly once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			events, err := state.EventLog{Path: cfg.StartupLogPath()}.ConsumeEvents()
			if err != nil {
				return fmt.Errorf("consume events: %w", err)
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending events.")
				return nil
			}
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", ev.TS.Local().Format("2006-01-02 15:04:05"), ev.Message)
			}
			return nil
		},
	}
}

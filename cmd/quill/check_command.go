package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/manifest"
	"quill/internal/runtime"
	"quill/internal/version"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the update server without installing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			local := version.Normalize(runtime.At(cfg.RuntimeDir()).Version())
			man, err := manifest.NewClient(cfg, logger).Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("update check failed: %w", err)
			}

			newer, err := version.IsNewer(local, man.RuntimeVersion)
			if err != nil {
				return fmt.Errorf("compare versions: %w", err)
			}

			fmt.Fprintf(out, "Installed: %s\n", local)
			fmt.Fprintf(out, "Available: %s\n", man.RuntimeVersion)
			if newer {
				fmt.Fprintln(out, "An update is available. Run quill launch to apply it.")
			} else {
				fmt.Fprintln(out, "The runtime is up to date.")
			}
			return nil
		},
	}
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/credentials"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigShowCommand(ctx))
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigSetKeyCommand(ctx))
	return cmd
}

// newConfigSetKeyCommand stores an API credential for the application. The
// credentials file keeps owner-only permissions and any keys written by the
// application itself are preserved.
func newConfigSetKeyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <name> <value>",
		Short: "Store an API credential for the application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store := credentials.Store{Path: cfg.CredentialsPath()}
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in %s\n", args[0], cfg.CredentialsPath())
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rows := [][]string{
				{"App support dir", cfg.Paths.AppSupportDir},
				{"Log dir", cfg.Paths.LogDir},
				{"Model cache dir", cfg.Paths.ModelCacheDir},
				{"Manifest URL", cfg.Update.ManifestURL},
				{"Model registry", cfg.Model.RegistryURL},
				{"Model repository", cfg.Model.RepoID},
				{"Log level", cfg.Logging.Level},
				{"Log format", cfg.Logging.Format},
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Setting", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			if _, statErr := os.Stat(path); statErr == nil && !force {
				return errors.New(path + " already exists; use --force to overwrite")
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	opts := &provisionOptions{}

	rootCmd := &cobra.Command{
		Use:           "quill-installer",
		Short:         "Provision a staged Quill runtime tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.root == "" {
				return errors.New("--root is required")
			}
			if opts.provisionModel && (opts.modelCache == "" || opts.registry == "" || opts.modelRepo == "") {
				return errors.New("--provision-model requires --model-cache, --registry and --model-repo")
			}
			return runProvision(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	rootCmd.Flags().StringVar(&opts.root, "root", "", "Staging tree to provision")
	rootCmd.Flags().BoolVar(&opts.provisionModel, "provision-model", false, "Also download the ML model into the cache")
	rootCmd.Flags().StringVar(&opts.modelCache, "model-cache", "", "Model cache directory")
	rootCmd.Flags().StringVar(&opts.registry, "registry", "", "Model registry base URL")
	rootCmd.Flags().StringVar(&opts.modelRepo, "model-repo", "", "Model repository id (owner/name)")
	rootCmd.Flags().StringVar(&opts.caBundle, "ca-bundle", "", "CA bundle override for registry downloads")

	return rootCmd
}

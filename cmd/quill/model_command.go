package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/modelcache"
	"quill/internal/protocol"
	"quill/internal/state"
)

func newModelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the speech model cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newModelCheckCommand(ctx))
	cmd.AddCommand(newModelApplyCommand(ctx))
	return cmd
}

func newModelChecker(ctx *commandContext) (*modelcache.Checker, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return nil, err
	}
	return &modelcache.Checker{
		Cache:     modelcache.Cache{Root: cfg.Paths.ModelCacheDir, RepoID: cfg.Model.RepoID},
		Registry:  modelcache.NewRegistry(cfg.Model.RegistryURL, cfg.Update.CABundle),
		StatePath: cfg.ModelStatePath(),
		Interval:  time.Duration(cfg.Model.CheckIntervalHours) * time.Hour,
		Timeout:   time.Duration(cfg.Model.FetchTimeoutSeconds) * time.Second,
		Logger:    logger,
	}, nil
}

func newModelCheckCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the registry for a newer model revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			checker, err := newModelChecker(ctx)
			if err != nil {
				return err
			}
			if force {
				checker.Interval = 0
			}
			out := cmd.OutOrStdout()

			result, err := checker.Check(time.Now())
			if err != nil {
				return fmt.Errorf("model check failed: %w", err)
			}
			if !result.Checked {
				fmt.Fprintln(out, "Checked recently; using cached result (pass --force to re-check).")
			}
			local := result.LocalSHA
			if local == "" {
				local = "not installed"
			} else {
				local = shortRevision(local)
			}
			fmt.Fprintf(out, "Installed revision: %s\n", local)
			if result.RemoteSHA != "" {
				fmt.Fprintf(out, "Registry revision:  %s\n", shortRevision(result.RemoteSHA))
			}
			if result.UpdateAvailable {
				fmt.Fprintln(out, "A newer model revision is available. Run quill model apply to install it.")
			} else {
				fmt.Fprintln(out, "The model is up to date.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the check interval")
	return cmd
}

func newModelApplyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Download and activate the latest model revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			checker, err := newModelChecker(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			// Always consult the registry here; apply needs the file listing.
			checker.Interval = 0
			result, err := checker.Check(time.Now())
			if err != nil {
				return fmt.Errorf("model check failed: %w", err)
			}
			if !result.UpdateAvailable {
				fmt.Fprintln(out, "The model is already up to date.")
				return nil
			}

			fmt.Fprintf(out, "Downloading model revision %s (%d files)\n",
				shortRevision(result.Info.SHA), len(result.Info.Siblings))
			renderer := newProgressRenderer(out)
			obs := &rendererFileObserver{renderer: renderer}
			cache := modelcache.Cache{Root: cfg.Paths.ModelCacheDir, RepoID: cfg.Model.RepoID}
			registry := modelcache.NewRegistry(cfg.Model.RegistryURL, cfg.Update.CABundle)
			if err := modelcache.Provision(cmd.Context(), cache, registry, result.Info, obs); err != nil {
				return fmt.Errorf("model download failed: %w", err)
			}
			if err := checker.MarkApplied(result.Info.SHA); err != nil {
				return fmt.Errorf("record applied revision: %w", err)
			}
			_ = state.EventLog{Path: cfg.StartupLogPath()}.Append(
				"updated speech model to revision " + shortRevision(result.Info.SHA))
			fmt.Fprintln(out, "Model updated.")
			return nil
		},
	}
}

// rendererFileObserver adapts the CLI progress renderer to the model
// download observer by reusing the protocol event rendering.
type rendererFileObserver struct {
	renderer *progressRenderer
}

func (o *rendererFileObserver) FileStart(index, totalFiles int, name string, size int64) {
	o.renderer.InstallerEvent(protocol.FileStart{Index: index, TotalFiles: totalFiles, File: name, Size: size})
}

func (o *rendererFileObserver) FileProgress(index, totalFiles int, name string, done, total int64, pct float64) {
	o.renderer.InstallerEvent(protocol.FileProgress{Index: index, TotalFiles: totalFiles, File: name, Done: done, Total: total, Pct: pct})
}

func (o *rendererFileObserver) FileHeartbeat(index, totalFiles int, name string, elapsed time.Duration, size, done, total int64) {
	o.renderer.InstallerEvent(protocol.FileHeartbeat{
		Index: index, TotalFiles: totalFiles, File: name,
		Elapsed: protocol.HeartbeatElapsed(elapsed), Size: size, Done: done, Total: total,
	})
}

var _ modelcache.FileObserver = (*rendererFileObserver)(nil)

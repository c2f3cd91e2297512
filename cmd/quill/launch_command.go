package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/engine"
	"quill/internal/history"
	"quill/internal/modelcache"
	"quill/internal/runtime"
	"quill/internal/version"
)

type launchFlags struct {
	noUpdate bool
	appArgs  []string
}

func newLaunchCommand(ctx *commandContext) *cobra.Command {
	flags := launchFlags{}
	cmd := &cobra.Command{
		Use:   "launch [-- app args]",
		Short: "Check for updates, apply them, and start the application",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.appArgs = args
			return runLaunch(cmd, ctx, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.noUpdate, "no-update", false, "Skip the update check and launch what is installed")
	return cmd
}

func runLaunch(cmd *cobra.Command, ctx *commandContext, flags launchFlags) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	current := runtime.At(cfg.RuntimeDir())
	if flags.noUpdate {
		if !current.Valid() {
			return errors.New("no runtime installed; run quill launch without --no-update first")
		}
		return startApp(cmd, ctx, flags, version.Normalize(current.Version()))
	}

	ledger, err := history.Open(cfg.HistoryDBPath())
	if err != nil {
		// The ledger is best-effort; the launch must not depend on it.
		ledger = nil
	}
	if ledger != nil {
		defer ledger.Close()
	}

	eng := engine.New(cfg, ledger, logger)
	renderer := newProgressRenderer(out)
	eng.DownloadObserver = renderer
	eng.OnInstallerEvent = renderer.InstallerEvent

	decision := eng.Run(cmd.Context())
	if decision.Outcome == engine.OutcomeBootstrapRequired {
		fmt.Fprintln(out, "First run: installing the Quill runtime. This downloads the runtime and speech model once.")
		decision = eng.Bootstrap(cmd.Context())
	}
	renderer.finishBar()

	switch decision.Outcome {
	case engine.OutcomeLaunchBlocked:
		if decision.Err != nil {
			return fmt.Errorf("%s: %w", decision.Reason, decision.Err)
		}
		return errors.New(decision.Reason)
	case engine.OutcomeUpdatedAndLaunch:
		fmt.Fprintf(out, "Runtime updated to %s.\n", decision.Version)
	}

	checkModel(cfg, logger)
	return startApp(cmd, ctx, flags, decision.Version)
}

func startApp(cmd *cobra.Command, ctx *commandContext, flags launchFlags, launchVersion string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}

	inst := runtime.At(cfg.RuntimeDir())
	pid, err := runtime.Launch(cmd.Context(), inst, runtime.LaunchOptions{
		AppEntry:      cfg.Launch.AppEntry,
		ModelCacheDir: cfg.Paths.ModelCacheDir,
		LogDir:        cfg.Paths.LogDir,
		Args:          flags.appArgs,
	}, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Launched Quill %s (pid %d).\n", launchVersion, pid)
	return nil
}

// checkModel runs the rate-limited model revision check. Failures are logged
// and never block the launch; a newer revision is only recorded as deferred
// so the model command can apply it on demand.
func checkModel(cfg *config.Config, logger *slog.Logger) {
	checker := &modelcache.Checker{
		Cache:     modelcache.Cache{Root: cfg.Paths.ModelCacheDir, RepoID: cfg.Model.RepoID},
		Registry:  modelcache.NewRegistry(cfg.Model.RegistryURL, cfg.Update.CABundle),
		StatePath: cfg.ModelStatePath(),
		Interval:  time.Duration(cfg.Model.CheckIntervalHours) * time.Hour,
		Timeout:   time.Duration(cfg.Model.FetchTimeoutSeconds) * time.Second,
		Logger:    logger,
	}
	_, _ = checker.Check(time.Now())
}

// Package engine is the startup decision state machine. On every launch it
// decides, from local state and what the network will admit, whether to run
// first-time setup, launch what is installed, apply an update first, or
// refuse to launch. Every terminal decision is persisted to the update state
// file, the startup event log, and the history ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"quill/internal/config"
	"quill/internal/deps"
	"quill/internal/download"
	"quill/internal/faults"
	"quill/internal/history"
	"quill/internal/installer"
	"quill/internal/logging"
	"quill/internal/manifest"
	"quill/internal/modelcache"
	"quill/internal/runtime"
	"quill/internal/staging"
	"quill/internal/state"
	"quill/internal/swap"
	"quill/internal/version"
)

// Outcome is the terminal decision for one launch.
type Outcome string

const (
	// OutcomeBootstrapRequired means no valid installation exists; the
	// caller must run Bootstrap before anything can launch.
	OutcomeBootstrapRequired Outcome = "bootstrap_required"
	// OutcomeLaunchCurrent means launch the installed runtime as-is.
	OutcomeLaunchCurrent Outcome = "launch_current"
	// OutcomeUpdatedAndLaunch means an update was applied; launch the new
	// runtime.
	OutcomeUpdatedAndLaunch Outcome = "updated_and_launch"
	// OutcomeLaunchBlocked means nothing may launch; Reason says why.
	OutcomeLaunchBlocked Outcome = "launch_blocked"
)

// Decision is the engine's tagged result.
type Decision struct {
	Outcome Outcome
	// Version is the runtime version the caller should launch, when the
	// outcome permits launching.
	Version string
	// Reason is the human-readable explanation recorded with the decision.
	Reason string
	// Err carries the underlying fault for blocked outcomes.
	Err error
}

// Engine evaluates and applies the startup update policy.
type Engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	manifests  *manifest.Client
	downloader *download.Downloader
	installs   *installer.Installer
	ledger     *history.Store

	// InstallerBin overrides child binary resolution, for tests.
	InstallerBin string
	// OnInstallerEvent observes provisioning progress.
	OnInstallerEvent installer.EventFunc
	// DownloadObserver observes payload byte progress.
	DownloadObserver download.Observer
	// PreflightTools overrides the host tool preflight; nil uses
	// deps.Required.
	PreflightTools []deps.Tool

	now func() time.Time
}

// New wires an engine from the shared configuration. The ledger is optional;
// a nil store skips history recording.
func New(cfg *config.Config, ledger *history.Store, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		manifests:  manifest.NewClient(cfg, logger),
		downloader: download.New(cfg.Update.CABundle, logger),
		installs:   installer.New(logger),
		ledger:     ledger,
		now:        time.Now,
	}
}

// Run acquires the single-instance lock, evaluates the update policy, and
// applies any update inline. It always returns a terminal decision; the
// caller only has to act on the outcome.
func (e *Engine) Run(ctx context.Context) Decision {
	log := logging.NewComponentLogger(e.logger, "engine")

	lock := flock.New(e.cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil || !locked {
		current := runtime.At(e.cfg.RuntimeDir())
		if current.Valid() {
			return e.terminal(Decision{
				Outcome: OutcomeLaunchCurrent,
				Version: version.Normalize(current.Version()),
				Reason:  "another instance holds the update lock",
			}, "")
		}
		return e.terminal(Decision{
			Outcome: OutcomeLaunchBlocked,
			Reason:  "another instance is bootstrapping; try again shortly",
			Err:     err,
		}, "")
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := staging.Sweep(e.cfg.Paths.AppSupportDir, staging.SweepAge, e.logger); err != nil {
		log.Warn("staging sweep failed", logging.Error(err))
	}

	current := runtime.At(e.cfg.RuntimeDir())
	if !current.Valid() {
		// No complete installation, no matter what else is on disk.
		return e.terminal(Decision{
			Outcome: OutcomeBootstrapRequired,
			Reason:  "no runtime installed",
		}, "")
	}
	localVersion := version.Normalize(current.Version())

	if d, blocked := e.preflight(); blocked {
		return d
	}

	man, err := e.manifests.Fetch(ctx)
	if err != nil {
		e.recordManifestFailure(err)
		return e.terminal(Decision{
			Outcome: OutcomeLaunchCurrent,
			Version: localVersion,
			Reason:  fmt.Sprintf("update check offline, launching installed version %s", localVersion),
			Err:     err,
		}, "")
	}
	e.clearManifestFailures()

	newer, err := version.IsNewer(localVersion, man.RuntimeVersion)
	if err != nil || !newer {
		return e.terminal(Decision{
			Outcome: OutcomeLaunchCurrent,
			Version: localVersion,
			Reason:  "runtime is up to date",
		}, man.RuntimeVersion)
	}

	log.Info("update available",
		logging.String("local_version", localVersion),
		logging.String("remote_version", man.RuntimeVersion))
	return e.applyUpdate(ctx, man, localVersion)
}

// applyUpdate downloads, stages and promotes man's payload. An integrity
// failure gets a bounded number of fresh re-downloads before it blocks the
// launch; every other failure falls back to the installed runtime.
func (e *Engine) applyUpdate(ctx context.Context, man manifest.Manifest, localVersion string) Decision {
	log := logging.NewComponentLogger(e.logger, "engine")

	if err := e.fetchPayload(ctx, man); err != nil {
		if faults.Recoverable(err) {
			return e.terminal(Decision{
				Outcome: OutcomeLaunchCurrent,
				Version: localVersion,
				Reason:  fmt.Sprintf("update download failed, launching installed version %s", localVersion),
			}, man.RuntimeVersion)
		}
		return e.terminal(Decision{
			Outcome: OutcomeLaunchBlocked,
			Reason:  "downloaded update failed integrity verification; refusing to install it. See " + e.cfg.BootstrapLogPath(),
			Err:     err,
		}, man.RuntimeVersion)
	}

	e.seedModelCache()
	stagingDir := staging.NewDir(e.cfg.Paths.AppSupportDir)
	err := e.installs.Install(ctx, installer.Options{
		PayloadPath:  e.cfg.PayloadPath(),
		StagingDir:   stagingDir,
		Version:      man.RuntimeVersion,
		InstallerBin: e.InstallerBin,
		OnEvent:      e.OnInstallerEvent,
	})
	if err != nil {
		log.Error("staged install failed", logging.Error(err))
		return e.terminal(Decision{
			Outcome: OutcomeLaunchCurrent,
			Version: localVersion,
			Reason:  fmt.Sprintf("update installation failed, launching installed version %s", localVersion),
			Err:     err,
		}, man.RuntimeVersion)
	}

	if err := swap.Promote(stagingDir, e.cfg.RuntimeDir(), e.cfg.BackupDir(), e.logger); err != nil {
		if runtime.At(e.cfg.RuntimeDir()).Valid() {
			return e.terminal(Decision{
				Outcome: OutcomeLaunchCurrent,
				Version: localVersion,
				Reason:  fmt.Sprintf("update promotion failed, previous version %s restored", localVersion),
				Err:     err,
			}, man.RuntimeVersion)
		}
		return e.terminal(Decision{
			Outcome: OutcomeLaunchBlocked,
			Reason:  "update promotion failed and no working installation remains. See " + e.cfg.BootstrapLogPath(),
			Err:     err,
		}, man.RuntimeVersion)
	}

	e.cleanupPayload()
	return e.terminal(Decision{
		Outcome: OutcomeUpdatedAndLaunch,
		Version: man.RuntimeVersion,
		Reason:  fmt.Sprintf("updated runtime from %s to %s", localVersion, man.RuntimeVersion),
	}, man.RuntimeVersion)
}

// Bootstrap performs first-time setup: the manifest fetch is mandatory here,
// and the staged install provisions the model cache as well. The returned
// decision is either updated_and_launch or launch_blocked.
func (e *Engine) Bootstrap(ctx context.Context) Decision {
	lock := flock.New(e.cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return e.terminal(Decision{
			Outcome: OutcomeLaunchBlocked,
			Reason:  "another instance is bootstrapping; try again shortly",
			Err:     err,
		}, "")
	}
	defer func() { _ = lock.Unlock() }()

	if d, blocked := e.preflight(); blocked {
		return d
	}

	man, err := e.manifests.Fetch(ctx)
	if err != nil {
		e.recordManifestFailure(err)
		return e.terminal(Decision{
			Outcome: OutcomeLaunchBlocked,
			Reason:  "first-time setup needs the update server and could not reach it. See " + e.cfg.BootstrapLogPath(),
			Err:     err,
		}, "")
	}
	e.clearManifestFailures()

	if err := e.fetchPayload(ctx, man); err != nil {
		reason := "first-time download failed. See " + e.cfg.BootstrapLogPath()
		if faults.Blocking(err) {
			reason = "first-time download failed integrity verification. See " + e.cfg.BootstrapLogPath()
		}
		return e.terminal(Decision{Outcome: OutcomeLaunchBlocked, Reason: reason, Err: err}, man.RuntimeVersion)
	}

	e.seedModelCache()
	stagingDir := staging.NewDir(e.cfg.Paths.AppSupportDir)
	err = e.installs.Install(ctx, installer.Options{
		PayloadPath:    e.cfg.PayloadPath(),
		StagingDir:     stagingDir,
		Version:        man.RuntimeVersion,
		InstallerBin:   e.InstallerBin,
		ProvisionModel: true,
		ModelCacheDir:  e.cfg.Paths.ModelCacheDir,
		RegistryURL:    e.cfg.Model.RegistryURL,
		ModelRepo:      e.cfg.Model.RepoID,
		OnEvent:        e.OnInstallerEvent,
	})
	if err != nil {
		return e.terminal(Decision{
			Outcome: OutcomeLaunchBlocked,
			Reason:  "first-time installation failed. See " + e.cfg.BootstrapLogPath(),
			Err:     err,
		}, man.RuntimeVersion)
	}

	if err := swap.Promote(stagingDir, e.cfg.RuntimeDir(), e.cfg.BackupDir(), e.logger); err != nil {
		return e.terminal(Decision{
			Outcome: OutcomeLaunchBlocked,
			Reason:  "first-time installation could not be activated. See " + e.cfg.BootstrapLogPath(),
			Err:     err,
		}, man.RuntimeVersion)
	}

	e.cleanupPayload()
	return e.terminal(Decision{
		Outcome: OutcomeUpdatedAndLaunch,
		Version: man.RuntimeVersion,
		Reason:  fmt.Sprintf("installed runtime %s", man.RuntimeVersion),
	}, man.RuntimeVersion)
}

// preflight runs the host tool checks; a failure is always a blocking
// decision since the application cannot work without its tools.
func (e *Engine) preflight() (Decision, bool) {
	tools := e.PreflightTools
	if tools == nil {
		tools = deps.Required
	}
	err := deps.Check(tools, e.logger)
	if err == nil {
		return Decision{}, false
	}
	reason := "a required host tool is missing: " + err.Error()
	if errors.Is(err, faults.ErrBrewMissing) {
		reason = "Homebrew is required and was not found. " + deps.InstallHint(err)
	}
	return e.terminal(Decision{
		Outcome: OutcomeLaunchBlocked,
		Reason:  reason,
		Err:     err,
	}, ""), true
}

// fetchPayload downloads and verifies the payload, re-downloading from
// scratch after an integrity failure up to the configured retry budget.
func (e *Engine) fetchPayload(ctx context.Context, man manifest.Manifest) error {
	log := logging.NewComponentLogger(e.logger, "engine")
	timeout := time.Duration(e.cfg.Update.DownloadTimeoutMinutes) * time.Minute

	url := man.PayloadURL
	if override := e.cfg.Update.PayloadURL; override != "" {
		url = override
	}

	attempts := 1 + e.cfg.Update.IntegrityRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = e.downloader.FetchWithHash(ctx, url, man.PayloadSHA256,
			e.cfg.PayloadPath(), timeout, e.DownloadObserver)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, faults.ErrIntegrity) || attempt == attempts {
			return lastErr
		}
		log.Warn("payload failed verification, re-downloading",
			logging.Int("attempt", attempt),
			logging.Error(lastErr))
	}
	return lastErr
}

// seedModelCache moves a model cache that older releases kept inside the
// runtime slot into the shared cache directory. Run before every staged
// install so the models never ride along into the backup slot, which is
// deleted after a successful swap.
func (e *Engine) seedModelCache() {
	legacy := filepath.Join(e.cfg.RuntimeDir(), "models", "huggingface")
	cache := modelcache.Cache{Root: e.cfg.Paths.ModelCacheDir, RepoID: e.cfg.Model.RepoID}
	if err := cache.Migrate(legacy); err != nil {
		logging.NewComponentLogger(e.logger, "engine").
			Warn("could not migrate legacy model cache", logging.Error(err))
	}
}

func (e *Engine) cleanupPayload() {
	if err := os.Remove(e.cfg.PayloadPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.NewComponentLogger(e.logger, "engine").
			Warn("could not remove payload archive", logging.Error(err))
	}
}

// terminal persists a decision everywhere it must survive: the update state
// file, the startup event log, and the history ledger. Persistence failures
// are logged, never allowed to change the decision.
func (e *Engine) terminal(d Decision, remoteVersion string) Decision {
	log := logging.NewComponentLogger(e.logger, "engine")

	st := state.UpdateState{
		CheckedAt:     e.now().UTC(),
		LocalVersion:  d.Version,
		RemoteVersion: remoteVersion,
		ActionTaken:   string(d.Outcome),
	}
	if d.Err != nil {
		st.LastError = d.Err.Error()
	}
	if prev, err := state.LoadUpdateState(e.cfg.UpdateStatePath()); err == nil {
		st.ManifestFailures = prev.ManifestFailures
	}
	if err := state.SaveUpdateState(e.cfg.UpdateStatePath(), st); err != nil {
		log.Warn("could not persist update state", logging.Error(err))
	}

	events := state.EventLog{Path: e.cfg.StartupLogPath()}
	if err := events.Append(d.Reason); err != nil {
		log.Warn("could not append startup event", logging.Error(err))
	}

	if e.ledger != nil {
		detail := ""
		if d.Err != nil {
			detail = d.Err.Error()
		}
		if _, err := e.ledger.Append(context.Background(), history.Record{
			StartedAt:     e.now().UTC(),
			LocalVersion:  d.Version,
			RemoteVersion: remoteVersion,
			Outcome:       string(d.Outcome),
			Detail:        detail,
		}); err != nil {
			log.Warn("could not record history", logging.Error(err))
		}
	}

	log.Info("startup decision",
		logging.String("outcome", string(d.Outcome)),
		logging.String("reason", d.Reason))
	return d
}

func (e *Engine) recordManifestFailure(cause error) {
	st, err := state.LoadUpdateState(e.cfg.UpdateStatePath())
	if err != nil {
		st = state.UpdateState{}
	}
	st.ManifestFailures++
	st.LastError = cause.Error()
	st.CheckedAt = e.now().UTC()
	if saveErr := state.SaveUpdateState(e.cfg.UpdateStatePath(), st); saveErr != nil {
		logging.NewComponentLogger(e.logger, "engine").
			Warn("could not persist manifest failure count", logging.Error(saveErr))
	}
}

func (e *Engine) clearManifestFailures() {
	st, err := state.LoadUpdateState(e.cfg.UpdateStatePath())
	if err != nil || st.ManifestFailures == 0 {
		return
	}
	st.ManifestFailures = 0
	_ = state.SaveUpdateState(e.cfg.UpdateStatePath(), st)
}

package modelcache

import (
	"log/slog"
	"time"

	"quill/internal/logging"
	"quill/internal/state"
)

// CheckResult describes what the rate-limited checker concluded.
type CheckResult struct {
	// Checked is false when the interval had not elapsed and no registry
	// traffic happened.
	Checked bool
	// LocalSHA is the installed revision, empty when no usable model exists.
	LocalSHA string
	// RemoteSHA is the registry head, possibly stale (from persisted state)
	// when Checked is false.
	RemoteSHA string
	// UpdateAvailable means a valid remote revision differs from local.
	UpdateAvailable bool
	// Info carries the file listing when a live lookup happened, for a
	// caller that wants to apply the update immediately.
	Info ModelInfo
}

// Checker performs the rate-limited model revision check. Failures are never
// fatal to the caller: the model keeps working at whatever revision is
// installed, and the checker just records what went wrong.
type Checker struct {
	Cache     Cache
	Registry  *Registry
	StatePath string
	Interval  time.Duration
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Check consults the registry at most once per interval and persists what it
// learned. Offline or abandoned lookups fall back to the last persisted
// remote revision so the caller can still reason about staleness.
func (c *Checker) Check(now time.Time) (CheckResult, error) {
	log := logging.NewComponentLogger(c.Logger, "model-check")

	st, err := state.LoadModelState(c.StatePath)
	if err != nil {
		// Corrupt throttle state starts over rather than wedging checks.
		log.Warn("model state unreadable, resetting", logging.Error(err))
		st = state.ModelState{}
	}

	local := c.Cache.LocalRevision()
	result := CheckResult{LocalSHA: local, RemoteSHA: st.LastRemoteSHA}

	if !st.CheckDue(now, c.Interval) {
		result.UpdateAvailable = ValidRevision(st.LastRemoteSHA) && st.LastRemoteSHA != local
		log.Debug("model check skipped, interval not elapsed",
			logging.String("local_sha", local))
		return result, nil
	}

	info, lookupErr := c.Registry.LookupDetached(c.Cache.RepoID, c.Timeout)
	st.LastCheckAt = now
	st.LastInstalledSHA = local
	if lookupErr != nil {
		st.LastError = lookupErr.Error()
		if saveErr := state.SaveModelState(c.StatePath, st); saveErr != nil {
			log.Warn("could not persist model state", logging.Error(saveErr))
		}
		result.UpdateAvailable = ValidRevision(st.LastRemoteSHA) && st.LastRemoteSHA != local
		log.Info("model registry unreachable, using last known revision",
			logging.String("last_remote_sha", st.LastRemoteSHA),
			logging.Error(lookupErr))
		return result, lookupErr
	}

	st.LastError = ""
	st.LastRemoteSHA = info.SHA
	if info.SHA != local {
		st.DeferredSHA = info.SHA
	} else {
		st.DeferredSHA = ""
	}
	if err := state.SaveModelState(c.StatePath, st); err != nil {
		log.Warn("could not persist model state", logging.Error(err))
	}

	result.Checked = true
	result.RemoteSHA = info.SHA
	result.UpdateAvailable = info.SHA != local
	result.Info = info
	log.Info("model revision checked",
		logging.String("local_sha", local),
		logging.String("remote_sha", info.SHA),
		logging.Bool("update_available", result.UpdateAvailable))
	return result, nil
}

// MarkApplied records that the given revision is now installed, clearing any
// deferred revision it satisfies.
func (c *Checker) MarkApplied(sha string) error {
	st, err := state.LoadModelState(c.StatePath)
	if err != nil {
		st = state.ModelState{}
	}
	st.LastInstalledSHA = sha
	if st.DeferredSHA == sha {
		st.DeferredSHA = ""
	}
	return state.SaveModelState(c.StatePath, st)
}

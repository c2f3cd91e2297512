package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"quill/internal/faults"
	"quill/internal/logging"
)

// LaunchOptions carries everything the application child process needs that
// the installation itself cannot supply.
type LaunchOptions struct {
	// AppEntry is the entry script path relative to the installation root.
	AppEntry string
	// ModelCacheDir is exported to the child so it resolves models from the
	// managed cache rather than a per-user default.
	ModelCacheDir string
	// LogDir is exported so the application writes alongside the
	// bootstrapper's own logs.
	LogDir string
	// Args are passed through to the application after the entry script.
	Args []string
}

// Launch starts the application under the installation's virtual-environment
// interpreter and detaches. It returns the child pid; the bootstrapper does
// not wait for application exit.
func Launch(ctx context.Context, inst Installation, opts LaunchOptions, logger *slog.Logger) (int, error) {
	log := logging.NewComponentLogger(logger, "launch")

	python := inst.VenvPython()
	if _, err := os.Stat(python); err != nil {
		return 0, faults.Wrap(faults.ErrInstall, "launch", "resolve-interpreter",
			fmt.Sprintf("virtual environment interpreter missing at %s", python), err)
	}
	entry := filepath.Join(inst.Root, opts.AppEntry)
	if _, err := os.Stat(entry); err != nil {
		return 0, faults.Wrap(faults.ErrInstall, "launch", "resolve-entry",
			fmt.Sprintf("application entry missing at %s", entry), err)
	}

	args := append([]string{entry}, opts.Args...)
	cmd := exec.CommandContext(ctx, python, args...)
	cmd.Dir = inst.Root
	cmd.Env = childEnv(inst, opts)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, faults.Wrap(faults.ErrInstall, "launch", "start",
			"application failed to start", err)
	}
	pid := cmd.Process.Pid
	log.Info("application started",
		logging.String(logging.FieldPath, entry),
		logging.Int("pid", pid))

	// Detach: reap the child in the background so it never zombies while the
	// bootstrapper process is still alive.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}

// childEnv rebuilds the child environment from the parent's, overriding the
// entries the managed runtime depends on.
func childEnv(inst Installation, opts LaunchOptions) []string {
	overrides := map[string]string{
		"PYTHONPATH":              inst.AppSourceDir(),
		"PYTHONUNBUFFERED":        "1",
		"QUILL_RUNTIME_DIR":       inst.Root,
		"QUILL_MODEL_CACHE":       opts.ModelCacheDir,
		"QUILL_LOG_DIR":           opts.LogDir,
		"VIRTUAL_ENV":             filepath.Join(inst.Root, "venv"),
		"PYTHONDONTWRITEBYTECODE": "1",
	}

	env := make([]string, 0, len(os.Environ())+len(overrides))
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, replaced := overrides[key]; replaced {
			continue
		}
		if key == "PATH" {
			continue
		}
		env = append(env, kv)
	}
	// The venv bin dir leads PATH so subprocesses spawned by the application
	// resolve the managed interpreter first.
	env = append(env, "PATH="+filepath.Join(inst.Root, "venv", "bin")+string(os.PathListSeparator)+os.Getenv("PATH"))
	for key, value := range overrides {
		env = append(env, key+"="+value)
	}
	return env
}

package installer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"quill/internal/faults"
	"quill/internal/logging"
	"quill/internal/protocol"
	"quill/internal/runtime"
)

// tailKeep is how many trailing child output lines are retained as the
// failure detail when a provisioning step dies.
const tailKeep = 20

// EventFunc receives every parsed protocol event from the provisioning
// child, in emission order.
type EventFunc func(protocol.Event)

// Options configures one staged install attempt.
type Options struct {
	// PayloadPath is the verified archive to extract.
	PayloadPath string
	// StagingDir is the fresh tree to build into.
	StagingDir string
	// Version is written into the version marker on success.
	Version string
	// InstallerBin is the provisioning child binary; empty resolves a
	// sibling of the current executable.
	InstallerBin string
	// ProvisionModel triggers the first-run large-asset download in the
	// child.
	ProvisionModel bool
	// ModelCacheDir, RegistryURL and ModelRepo pass the model cache target
	// through to the child.
	ModelCacheDir string
	RegistryURL   string
	ModelRepo     string
	// OnEvent observes child progress; nil discards events.
	OnEvent EventFunc
}

// Installer runs the staged install state machine: extract, clear
// quarantine, normalize permissions, provision via the child process, then
// write the markers. Steps are strictly sequential; the first failure aborts
// the attempt and leaves the staging tree in place for diagnostics.
type Installer struct {
	logger *slog.Logger
}

// New builds an installer that logs through the given logger.
func New(logger *slog.Logger) *Installer {
	return &Installer{logger: logger}
}

// Install runs the whole attempt. On success the staging tree is a complete,
// marked installation ready for promotion.
func (ins *Installer) Install(ctx context.Context, opts Options) error {
	log := logging.NewComponentLogger(ins.logger, "installer")

	log.Info("extracting payload",
		logging.String(logging.FieldPath, opts.PayloadPath))
	if err := Extract(opts.PayloadPath, opts.StagingDir); err != nil {
		return err
	}

	log.Info("clearing quarantine attributes")
	if err := ClearQuarantine(opts.StagingDir); err != nil {
		return err
	}

	inst := runtime.At(opts.StagingDir)
	log.Info("normalizing permissions",
		logging.String(logging.FieldPath, inst.BinDir()))
	if err := EnsureExecutable(inst.BinDir()); err != nil {
		return err
	}

	if err := ins.runProvisioner(ctx, inst, opts, log); err != nil {
		return err
	}

	// Markers go last: a tree without them is never promoted, so a crash
	// anywhere above leaves nothing that looks installed.
	if err := inst.WriteMarkers(opts.Version); err != nil {
		return faults.Wrap(faults.ErrInstall, "installer", "mark-installed",
			"provisioning finished but markers could not be written", err)
	}
	log.Info("staged install complete",
		logging.String(logging.FieldVersion, opts.Version))
	return nil
}

func (ins *Installer) runProvisioner(ctx context.Context, inst runtime.Installation, opts Options, log *slog.Logger) error {
	bin := opts.InstallerBin
	if bin == "" {
		resolved, err := siblingInstallerBin()
		if err != nil {
			return faults.Wrap(faults.ErrInstall, "installer", "resolve-provisioner",
				"could not locate the provisioning binary", err)
		}
		bin = resolved
	}

	args := []string{"--root", inst.Root}
	if opts.ProvisionModel {
		args = append(args, "--provision-model",
			"--model-cache", opts.ModelCacheDir,
			"--registry", opts.RegistryURL,
			"--model-repo", opts.ModelRepo)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = inst.Root
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return faults.Wrap(faults.ErrInstall, "installer", "provision",
			"could not attach to provisioner output", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return faults.Wrap(faults.ErrInstall, "installer", "provision",
			"provisioner failed to start", err)
	}

	tail := make([]string, 0, tailKeep)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail = appendTail(tail, line)

		ev := protocol.ParseLine(line)
		if step, ok := ev.(protocol.Step); ok {
			log.Info("provisioning step",
				logging.Int("step", step.N),
				logging.Int("steps_total", step.Total),
				logging.String("message", step.Message))
		}
		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		detail := strings.Join(tail, "\n")
		return faults.Wrap(faults.ErrInstall, "installer", "provision",
			fmt.Sprintf("provisioner failed: %v\nlast output:\n%s", err, detail), err)
	}
	if scanErr != nil {
		return faults.Wrap(faults.ErrInstall, "installer", "provision",
			"could not read provisioner output", scanErr)
	}
	return nil
}

func appendTail(tail []string, line string) []string {
	if len(tail) == tailKeep {
		copy(tail, tail[1:])
		tail = tail[:tailKeep-1]
	}
	return append(tail, line)
}

func siblingInstallerBin() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	bin := filepath.Join(filepath.Dir(self), "quill-installer")
	if _, err := os.Stat(bin); err != nil {
		return "", err
	}
	return bin, nil
}

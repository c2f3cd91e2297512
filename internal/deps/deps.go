// Package deps runs the host tool preflight: the external binaries the
// application shells out to must exist before a launch is worth attempting.
package deps

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"quill/internal/faults"
	"quill/internal/logging"
)

// Tool is one required host binary.
type Tool struct {
	Name string
	// ViaBrew marks tools the user is told to install with Homebrew on
	// macOS. When the tool is missing and brew itself is also missing,
	// the failure is reported as the distinct brew-missing variant so the
	// caller can route the user to installing Homebrew first.
	ViaBrew bool
}

// Required is the default tool set for the transcript processor.
var Required = []Tool{
	{Name: "ffmpeg", ViaBrew: true},
}

// Check verifies every required tool resolves on PATH. It returns the first
// failure; all lookups are logged.
func Check(tools []Tool, logger *slog.Logger) error {
	log := logging.NewComponentLogger(logger, "deps")
	for _, tool := range tools {
		path, err := exec.LookPath(tool.Name)
		if err == nil {
			log.Debug("host tool found",
				logging.String("tool", tool.Name),
				logging.String(logging.FieldPath, path))
			continue
		}
		if tool.ViaBrew && runtime.GOOS == "darwin" && !brewAvailable() {
			return faults.Wrap(faults.ErrBrewMissing, "deps", "preflight",
				fmt.Sprintf("%s is not installed and Homebrew is unavailable to install it", tool.Name), err)
		}
		return faults.Wrap(faults.ErrInstall, "deps", "preflight",
			fmt.Sprintf("required host tool %s not found on PATH", tool.Name), err)
	}
	return nil
}

func brewAvailable() bool {
	_, err := exec.LookPath("brew")
	return err == nil
}

// InstallHint renders the user-facing remediation for a preflight failure.
func InstallHint(err error) string {
	if err == nil {
		return ""
	}
	if strings.Contains(err.Error(), "Homebrew") {
		return "Install Homebrew from https://brew.sh, then run: brew install ffmpeg"
	}
	return "Install the missing tool and relaunch."
}

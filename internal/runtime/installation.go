// Package runtime models an installed runtime generation on disk: the
// portable interpreter, its virtual environment, the application source, and
// the marker files whose joint presence defines installation validity.
package runtime

import (
	"os"
	"path/filepath"
	"strings"

	"quill/internal/version"
)

const (
	// InstalledMarker is written as the final step of a staged install. A
	// tree without it is never treated as a valid installation.
	InstalledMarker = ".installed"
	// VersionMarker records the installed runtime version.
	VersionMarker = ".runtime_version"
)

// Installation is one runtime generation rooted at a directory.
type Installation struct {
	Root string
}

// At returns the installation rooted at dir.
func At(dir string) Installation {
	return Installation{Root: dir}
}

// InterpreterPath is the portable interpreter shipped inside the payload.
func (i Installation) InterpreterPath() string {
	return filepath.Join(i.Root, "python", "bin", "python3")
}

// BinDir holds the interpreter's executables; its entries must end up
// owner-executable after staging.
func (i Installation) BinDir() string {
	return filepath.Join(i.Root, "python", "bin")
}

// VenvPython is the virtual-environment interpreter the application runs
// under.
func (i Installation) VenvPython() string {
	return filepath.Join(i.Root, "venv", "bin", "python")
}

// VenvPip is the virtual-environment pip used during provisioning.
func (i Installation) VenvPip() string {
	return filepath.Join(i.Root, "venv", "bin", "pip")
}

// AppDir is the application source tree inside the installation.
func (i Installation) AppDir() string {
	return filepath.Join(i.Root, "app")
}

// AppSourceDir is the directory placed on the interpreter path at launch.
func (i Installation) AppSourceDir() string {
	return filepath.Join(i.Root, "app", "src")
}

// RequirementsPath is the pinned dependency manifest shipped in the payload.
func (i Installation) RequirementsPath() string {
	return filepath.Join(i.Root, "requirements.txt")
}

func (i Installation) installedMarkerPath() string {
	return filepath.Join(i.Root, InstalledMarker)
}

func (i Installation) versionMarkerPath() string {
	return filepath.Join(i.Root, VersionMarker)
}

// Valid reports whether this directory is a complete installation: both
// markers present and the version marker holding a parseable version.
func (i Installation) Valid() bool {
	if _, err := os.Stat(i.installedMarkerPath()); err != nil {
		return false
	}
	raw, err := os.ReadFile(i.versionMarkerPath())
	if err != nil {
		return false
	}
	_, err = version.Parse(strings.TrimSpace(string(raw)))
	return err == nil
}

// Version returns the installed version, or empty when the marker is missing
// or unreadable. Callers normalize malformed values to version.Zero.
func (i Installation) Version() string {
	raw, err := os.ReadFile(i.versionMarkerPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// WriteMarkers records the installed and version markers. This is the final,
// commit-like step of a staged install: a staging tree lacking these markers
// is never promoted or launched.
func (i Installation) WriteMarkers(runtimeVersion string) error {
	if err := os.WriteFile(i.versionMarkerPath(), []byte(runtimeVersion+"\n"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(i.installedMarkerPath(), []byte("ok\n"), 0o644)
}

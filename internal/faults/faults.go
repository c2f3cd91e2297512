// Package faults defines the error taxonomy shared by the bootstrap and
// update components. Components tag failures with a sentinel marker so the
// decision engine can classify outcomes without string matching.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork marks transport-level failures (DNS, refused connections,
	// timeouts). Always recoverable: the caller falls back to the installed
	// runtime.
	ErrNetwork = errors.New("network error")
	// ErrManifest marks a malformed remote descriptor. Recoverable, treated
	// as "no update available".
	ErrManifest = errors.New("manifest error")
	// ErrIntegrity marks a content hash mismatch. Never silently recovered;
	// surfaces as a blocking failure.
	ErrIntegrity = errors.New("integrity error")
	// ErrInstall marks a staged-install sub-step failure for reasons other
	// than integrity. Recoverable by keeping the existing installation.
	ErrInstall = errors.New("install error")
	// ErrBrewMissing marks an absent host package manager during system
	// dependency provisioning.
	ErrBrewMissing = errors.New("homebrew not installed")
)

// Wrap builds an error that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrInstall
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Blocking reports whether an error must prevent launch rather than fall back
// to the installed runtime.
func Blocking(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// Recoverable reports whether the startup flow may continue with the
// currently installed runtime after this error.
func Recoverable(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrIntegrity):
		return false
	default:
		return true
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "update failure"
	}
	return strings.Join(parts, ": ")
}

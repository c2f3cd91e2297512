package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"quill/internal/fileutil"
)

// ModelState throttles registry lookups and records what the checker learned
// while it could reach the registry, so offline launches can still reason
// about whether a newer model revision is known to exist.
type ModelState struct {
	LastCheckAt      time.Time `json:"last_check_at"`
	LastRemoteSHA    string    `json:"last_remote_sha,omitempty"`
	LastInstalledSHA string    `json:"last_installed_sha,omitempty"`
	// DeferredSHA is a remote revision the user declined or the checker could
	// not apply yet; it survives restarts so the prompt can be repeated.
	DeferredSHA string `json:"deferred_sha,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// CheckDue reports whether enough time has passed since the last registry
// lookup. A zero LastCheckAt (never checked) is always due. Clock skew that
// puts LastCheckAt in the future also reads as due rather than silencing
// checks until the wall clock catches up.
func (m ModelState) CheckDue(now time.Time, interval time.Duration) bool {
	if m.LastCheckAt.IsZero() {
		return true
	}
	elapsed := now.Sub(m.LastCheckAt)
	if elapsed < 0 {
		return true
	}
	return elapsed >= interval
}

// LoadModelState reads the record at path; missing file yields a zero state.
func LoadModelState(path string) (ModelState, error) {
	var st ModelState
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("read model state: %w", err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return ModelState{}, fmt.Errorf("parse model state: %w", err)
	}
	return st, nil
}

// SaveModelState writes the record atomically.
func SaveModelState(path string, st ModelState) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model state: %w", err)
	}
	if err := fileutil.AtomicWriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write model state: %w", err)
	}
	return nil
}

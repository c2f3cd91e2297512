// Package state persists the bootstrapper's durable records: the per-launch
// update decision, the startup event log handed to the application, and the
// model checker's throttle state. All writes go through tmp+rename so a
// crash mid-write never leaves a torn file.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"quill/internal/fileutil"
)

// UpdateState is the durable record of the most recent startup evaluation.
type UpdateState struct {
	CheckedAt     time.Time `json:"checked_at"`
	LocalVersion  string    `json:"local_version"`
	RemoteVersion string    `json:"remote_version,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	ActionTaken   string    `json:"action_taken"`
	// ManifestFailures counts consecutive manifest fetch failures across
	// launches. Reset to zero on any successful fetch.
	ManifestFailures int `json:"manifest_failures,omitempty"`
}

// LoadUpdateState reads the record at path. A missing file yields a zero
// state, not an error; a corrupt file is reported so the caller can decide
// whether to discard it.
func LoadUpdateState(path string) (UpdateState, error) {
	var st UpdateState
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("read update state: %w", err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return UpdateState{}, fmt.Errorf("parse update state: %w", err)
	}
	return st, nil
}

// SaveUpdateState writes the record atomically.
func SaveUpdateState(path string, st UpdateState) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode update state: %w", err)
	}
	if err := fileutil.AtomicWriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write update state: %w", err)
	}
	return nil
}

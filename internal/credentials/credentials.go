// Package credentials manages the application's credentials file. The
// bootstrapper only ever touches the keys it owns; unknown keys written by
// the application or by hand are preserved verbatim.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"quill/internal/fileutil"
)

// FileMode keeps the credentials file private to the owning user.
const FileMode = 0o600

// Store reads and writes one credentials file.
type Store struct {
	Path string
}

// Load returns the raw key set. A missing file yields an empty map.
func (s Store) Load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	values := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return values, nil
}

// Get returns the string value for key, or empty when absent or not a string.
func (s Store) Get(key string) (string, error) {
	values, err := s.Load()
	if err != nil {
		return "", err
	}
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", nil
	}
	return value, nil
}

// Set writes key=value, creating the file with private permissions and
// preserving every other key already present.
func (s Store) Set(key, value string) error {
	values, err := s.Load()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	values[key] = encoded

	out, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := fileutil.AtomicWriteFile(s.Path, append(out, '\n'), FileMode); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

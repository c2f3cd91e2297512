// Package manifest fetches and validates the remote runtime descriptor.
// Validation is all-or-nothing: no partially valid manifest is ever acted
// upon.
package manifest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"quill/internal/faults"
	"quill/internal/version"
)

//go:embed manifest_schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error

	sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Manifest is the immutable descriptor for the latest runtime generation.
type Manifest struct {
	RuntimeVersion string `json:"runtime_version"`
	PayloadURL     string `json:"payload_url"`
	PayloadSHA256  string `json:"payload_sha256"`
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiledSchema, schemaErr = compiler.Compile(schemaJSON)
	})
	return compiledSchema, schemaErr
}

// Validate parses and validates a raw manifest document. Any missing,
// mistyped, or malformed field rejects the manifest in its entirety.
func Validate(raw []byte) (Manifest, error) {
	schema, err := loadSchema()
	if err != nil {
		return Manifest{}, fmt.Errorf("compile manifest schema: %w", err)
	}

	result := schema.ValidateJSON(raw)
	if !result.IsValid() {
		return Manifest{}, faults.Wrap(faults.ErrManifest, "manifest", "validate",
			fmt.Sprintf("schema violation: %v", result.Errors), nil)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, faults.Wrap(faults.ErrManifest, "manifest", "validate", "document is not valid JSON", err)
	}

	m.RuntimeVersion = strings.TrimSpace(m.RuntimeVersion)
	m.PayloadURL = strings.TrimSpace(m.PayloadURL)
	m.PayloadSHA256 = strings.ToLower(strings.TrimSpace(m.PayloadSHA256))

	if _, err := version.IsNewer(version.Zero, m.RuntimeVersion); err != nil {
		return Manifest{}, faults.Wrap(faults.ErrManifest, "manifest", "validate",
			fmt.Sprintf("runtime_version %q is invalid", m.RuntimeVersion), err)
	}
	if !sha256Pattern.MatchString(m.PayloadSHA256) {
		return Manifest{}, faults.Wrap(faults.ErrManifest, "manifest", "validate",
			"payload_sha256 must be a lowercase 64-char hex string", nil)
	}
	if !strings.HasPrefix(m.PayloadURL, "https://") {
		return Manifest{}, faults.Wrap(faults.ErrManifest, "manifest", "validate",
			"payload_url must be https", nil)
	}

	return m, nil
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Environment override hooks. All optional; production endpoints are the
// defaults.
const (
	EnvManifestURL = "QUILL_MANIFEST_URL"
	EnvPayloadURL  = "QUILL_PAYLOAD_URL"
	EnvCABundle    = "QUILL_CA_BUNDLE"
)

// Paths contains directory configuration for the bootstrapper.
type Paths struct {
	AppSupportDir string `toml:"app_support_dir"`
	LogDir        string `toml:"log_dir"`
	ModelCacheDir string `toml:"model_cache_dir"`
}

// Update contains runtime update endpoints and timeouts.
type Update struct {
	ManifestURL            string `toml:"manifest_url"`
	PayloadURL             string `toml:"payload_url"`
	CABundle               string `toml:"ca_bundle"`
	ManifestTimeoutSeconds int    `toml:"manifest_timeout_seconds"`
	DownloadTimeoutMinutes int    `toml:"download_timeout_minutes"`
	IntegrityRetries       int    `toml:"integrity_retries"`
}

// Model contains the companion ML model update checker settings.
type Model struct {
	RegistryURL            string `toml:"registry_url"`
	RepoID                 string `toml:"repo_id"`
	CheckIntervalHours     int    `toml:"check_interval_hours"`
	FetchTimeoutSeconds    int    `toml:"fetch_timeout_seconds"`
	DownloadTimeoutMinutes int    `toml:"download_timeout_minutes"`
}

// Launch describes how the installed application is started.
type Launch struct {
	AppEntry string `toml:"app_entry"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration for the Quill bootstrapper. It is
// constructed once at process start and passed by reference into every
// component constructor; no component reads ambient globals.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Update  Update  `toml:"update"`
	Model   Model   `toml:"model"`
	Launch  Launch  `toml:"launch"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/quill/config.toml")
}

// Load locates, parses, and validates a configuration file. A missing file is
// not an error; defaults apply. Environment overrides (including an optional
// .env file next to the config) are applied after parsing.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	// Best-effort .env alongside the config file; real environment wins.
	_ = godotenv.Load(filepath.Join(filepath.Dir(resolvedPath), ".env"))

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Paths.AppSupportDir,
		&c.Paths.LogDir,
		&c.Paths.ModelCacheDir,
	} {
		if strings.TrimSpace(*field) == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}

	if v := strings.TrimSpace(os.Getenv(EnvManifestURL)); v != "" {
		c.Update.ManifestURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPayloadURL)); v != "" {
		c.Update.PayloadURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCABundle)); v != "" {
		c.Update.CABundle = v
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}

// EnsureDirectories creates the directories the bootstrapper needs to run.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.AppSupportDir, c.Paths.LogDir, c.Paths.ModelCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RuntimeDir is the active installation slot.
func (c *Config) RuntimeDir() string {
	return filepath.Join(c.Paths.AppSupportDir, "runtime")
}

// BackupDir is the previous-generation slot retained during a swap.
func (c *Config) BackupDir() string {
	return c.RuntimeDir() + "_prev"
}

// PayloadPath is where update payloads are downloaded before verification.
func (c *Config) PayloadPath() string {
	return filepath.Join(c.Paths.AppSupportDir, "runtime_payload_update.tar.gz")
}

// UpdateStatePath holds the durable record of the last update evaluation.
func (c *Config) UpdateStatePath() string {
	return filepath.Join(c.Paths.AppSupportDir, "update_state.json")
}

// StartupLogPath is the event log handed to the application on next start.
func (c *Config) StartupLogPath() string {
	return filepath.Join(c.Paths.AppSupportDir, "startup_update_log.jsonl")
}

// ModelStatePath holds the model update checker state.
func (c *Config) ModelStatePath() string {
	return filepath.Join(c.Paths.AppSupportDir, "model_update_state.json")
}

// CredentialsPath holds third-party API keys (owner-only permissions).
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.Paths.AppSupportDir, "credentials.json")
}

// HistoryDBPath is the sqlite ledger of update attempts.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.AppSupportDir, "history.db")
}

// LockPath guards against concurrent bootstrapper instances.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.AppSupportDir, "quill.lock")
}

// BootstrapLogPath is the persistent log referenced in user-facing errors.
func (c *Config) BootstrapLogPath() string {
	return filepath.Join(c.Paths.LogDir, "bootstrap.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

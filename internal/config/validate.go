package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration invariants after normalization.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.AppSupportDir) == "" {
		problems = append(problems, "paths.app_support_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ModelCacheDir) == "" {
		problems = append(problems, "paths.model_cache_dir must be set")
	}

	manifestURL := strings.TrimSpace(c.Update.ManifestURL)
	if manifestURL == "" {
		problems = append(problems, "update.manifest_url must be set")
	} else if !strings.HasPrefix(manifestURL, "https://") {
		problems = append(problems, "update.manifest_url must use https")
	}
	if payloadURL := strings.TrimSpace(c.Update.PayloadURL); payloadURL != "" && !strings.HasPrefix(payloadURL, "https://") {
		problems = append(problems, "update.payload_url must use https")
	}
	if c.Update.ManifestTimeoutSeconds <= 0 {
		problems = append(problems, "update.manifest_timeout_seconds must be positive")
	}
	if c.Update.DownloadTimeoutMinutes <= 0 {
		problems = append(problems, "update.download_timeout_minutes must be positive")
	}
	if c.Update.IntegrityRetries < 0 {
		problems = append(problems, "update.integrity_retries must not be negative")
	}

	if strings.TrimSpace(c.Model.RegistryURL) == "" {
		problems = append(problems, "model.registry_url must be set")
	}
	if strings.TrimSpace(c.Model.RepoID) == "" {
		problems = append(problems, "model.repo_id must be set")
	}
	if c.Model.CheckIntervalHours <= 0 {
		problems = append(problems, "model.check_interval_hours must be positive")
	}
	if c.Model.FetchTimeoutSeconds <= 0 {
		problems = append(problems, "model.fetch_timeout_seconds must be positive")
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

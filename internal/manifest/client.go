package manifest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"quill/internal/config"
	"quill/internal/faults"
	"quill/internal/logging"
	"quill/internal/webclient"
)

// Client fetches the runtime manifest from the configured endpoint.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewClient constructs a manifest client.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "manifest"),
	}
}

// Fetch performs a single bounded-timeout HTTPS GET of the manifest and
// validates it. Transport failures are tagged ErrNetwork; validation
// failures ErrManifest. When TLS verification fails despite a resolved
// bundle, the fetch is retried once through the system curl binary.
func (c *Client) Fetch(ctx context.Context) (Manifest, error) {
	timeout := time.Duration(c.cfg.Update.ManifestTimeoutSeconds) * time.Second
	url := c.cfg.Update.ManifestURL

	raw, err := c.fetchRaw(ctx, url, timeout)
	if err != nil {
		return Manifest{}, err
	}

	m, err := Validate(raw)
	if err != nil {
		return Manifest{}, err
	}

	c.logger.Debug("manifest fetched",
		logging.String(logging.FieldURL, url),
		logging.String(logging.FieldVersion, m.RuntimeVersion),
	)
	return m, nil
}

func (c *Client) fetchRaw(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	client, err := webclient.New(c.cfg.Update.CABundle, timeout)
	if err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "manifest", "fetch", "build https client", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "manifest", "fetch", "build request", err)
	}
	req.Header.Set("User-Agent", webclient.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		if webclient.IsTLSError(err) {
			c.logger.Warn("tls verification failed, retrying via system curl", logging.Error(err))
			return c.fetchViaCurl(ctx, url, timeout)
		}
		return nil, faults.Wrap(faults.ErrNetwork, "manifest", "fetch", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, faults.Wrap(faults.ErrNetwork, "manifest", "fetch",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "manifest", "fetch", "read body", err)
	}
	return raw, nil
}

func (c *Client) fetchViaCurl(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	tmp, err := os.CreateTemp("", "quill-manifest-*.json")
	if err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "manifest", "fetch", "create temp file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := webclient.CurlFetch(ctx, url, tmpPath, timeout); err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "manifest", "fetch", "curl fallback", err)
	}
	raw, err := os.ReadFile(filepath.Clean(tmpPath))
	if err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "manifest", "fetch", "read curl output", err)
	}
	return raw, nil
}

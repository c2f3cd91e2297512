// Package download streams large payloads to disk and verifies their sha256
// digest against the manifest's declaration before anyone touches the bytes.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quill/internal/faults"
	"quill/internal/fileutil"
	"quill/internal/logging"
	"quill/internal/webclient"
)

// Streaming chunk size. Large enough to keep syscall overhead irrelevant for
// multi-GB payloads.
const chunkSize = 512 * 1024

// UnknownTotal is reported when the server does not declare a Content-Length,
// e.g. chunked transfer. Callers must render an indeterminate state instead
// of a percentage.
const UnknownTotal int64 = -1

// Observer receives byte-level download progress.
type Observer interface {
	Progress(bytesDownloaded, totalBytes int64)
}

// NopObserver ignores all progress events.
type NopObserver struct{}

func (NopObserver) Progress(int64, int64) {}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(bytesDownloaded, totalBytes int64)

func (f ObserverFunc) Progress(done, total int64) { f(done, total) }

// Downloader fetches payloads with integrity verification.
type Downloader struct {
	caBundle string
	logger   *slog.Logger
	sampler  *logging.ProgressSampler
}

// New constructs a downloader. The caBundle may be empty to use the default
// trust roots.
func New(caBundle string, logger *slog.Logger) *Downloader {
	return &Downloader{
		caBundle: caBundle,
		logger:   logging.NewComponentLogger(logger, "download"),
		sampler:  logging.NewProgressSampler(10),
	}
}

// FetchWithHash downloads url to dest and verifies the payload digest.
// Transport failures are tagged ErrNetwork (recoverable). A digest mismatch
// is tagged ErrIntegrity, the destination file is removed, and the error text
// carries both digests. Any partial file from a prior attempt is deleted
// before the transfer starts; there is no resume-by-append.
func (d *Downloader) FetchWithHash(ctx context.Context, url, expectedSHA256, dest string, timeout time.Duration, observer Observer) error {
	expected := strings.ToLower(strings.TrimSpace(expectedSHA256))
	if observer == nil {
		observer = NopObserver{}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return faults.Wrap(faults.ErrInstall, "download", "prepare", "create destination directory", err)
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return faults.Wrap(faults.ErrInstall, "download", "prepare", "remove stale payload", err)
	}

	d.sampler.Reset()
	if err := d.stream(ctx, url, dest, timeout, observer); err != nil {
		return err
	}

	actual, err := fileutil.SHA256File(dest)
	if err != nil {
		return faults.Wrap(faults.ErrInstall, "download", "verify", "re-read payload", err)
	}
	if !strings.EqualFold(actual, expected) {
		_ = os.Remove(dest)
		return faults.Wrap(faults.ErrIntegrity, "download", "verify",
			fmt.Sprintf("payload hash mismatch: expected=%s actual=%s", expected, actual), nil)
	}

	d.logger.Info("payload verified", logging.String("sha256", actual))
	return nil
}

func (d *Downloader) stream(ctx context.Context, url, dest string, timeout time.Duration, observer Observer) error {
	client, err := webclient.New(d.caBundle, timeout)
	if err != nil {
		return faults.Wrap(faults.ErrNetwork, "download", "fetch", "build https client", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return faults.Wrap(faults.ErrNetwork, "download", "fetch", "build request", err)
	}
	req.Header.Set("User-Agent", webclient.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		if webclient.IsTLSError(err) {
			d.logger.Warn("tls verification failed, retrying via system curl", logging.Error(err))
			if curlErr := webclient.CurlFetch(ctx, url, dest, timeout); curlErr != nil {
				return faults.Wrap(faults.ErrNetwork, "download", "fetch", "curl fallback", curlErr)
			}
			return nil
		}
		return faults.Wrap(faults.ErrNetwork, "download", "fetch", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return faults.Wrap(faults.ErrNetwork, "download", "fetch",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	total := resp.ContentLength
	if total < 0 {
		total = UnknownTotal
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return faults.Wrap(faults.ErrInstall, "download", "fetch", "open destination", err)
	}
	defer out.Close()

	var downloaded int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return faults.Wrap(faults.ErrInstall, "download", "fetch", "write payload", writeErr)
			}
			downloaded += int64(n)
			observer.Progress(downloaded, total)
			d.logProgress(downloaded, total)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return faults.Wrap(faults.ErrNetwork, "download", "fetch", "read body", readErr)
		}
	}

	if err := out.Close(); err != nil {
		return faults.Wrap(faults.ErrInstall, "download", "fetch", "flush payload", err)
	}
	return nil
}

func (d *Downloader) logProgress(downloaded, total int64) {
	percent := -1.0
	if total > 0 {
		percent = float64(downloaded) / float64(total) * 100
	}
	if d.sampler.ShouldLog(percent, "payload") {
		if total > 0 {
			d.logger.Debug("download progress",
				logging.Int64("bytes", downloaded),
				logging.Int64("total", total),
				logging.Float64("percent", percent),
			)
		} else {
			d.logger.Debug("download progress", logging.Int64("bytes", downloaded))
		}
	}
}

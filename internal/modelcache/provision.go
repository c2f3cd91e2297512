package modelcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"quill/internal/faults"
	"quill/internal/webclient"
)

const (
	copyChunkSize     = 512 * 1024
	heartbeatInterval = 2 * time.Second
)

// FileObserver receives per-file transfer events during provisioning.
type FileObserver interface {
	FileStart(index, totalFiles int, name string, size int64)
	FileProgress(index, totalFiles int, name string, done, total int64, pct float64)
	// FileHeartbeat fires while a transfer is alive, driven by polling the
	// partial file's on-disk size, so callers can show a connecting state
	// before any byte progress is observable.
	FileHeartbeat(index, totalFiles int, name string, elapsed time.Duration, size, done, total int64)
}

// NopFileObserver discards all events.
type NopFileObserver struct{}

func (NopFileObserver) FileStart(int, int, string, int64)                                  {}
func (NopFileObserver) FileProgress(int, int, string, int64, int64, float64)               {}
func (NopFileObserver) FileHeartbeat(int, int, string, time.Duration, int64, int64, int64) {}

// Provision downloads every file of the given revision into the cache's
// snapshot directory, then advances the ref pointer. Partial files use a
// .part suffix and are renamed only when complete, so an interrupted
// provision never leaves a truncated file under its final name.
func Provision(ctx context.Context, cache Cache, registry *Registry, info ModelInfo, obs FileObserver) error {
	if obs == nil {
		obs = NopFileObserver{}
	}
	if !ValidRevision(info.SHA) {
		return faults.Wrap(faults.ErrInstall, "model", "provision",
			fmt.Sprintf("refusing to provision invalid revision %q", info.SHA), nil)
	}
	snapshot := cache.SnapshotDir(info.SHA)
	if err := os.MkdirAll(snapshot, 0o755); err != nil {
		return faults.Wrap(faults.ErrInstall, "model", "provision",
			"could not create snapshot directory", err)
	}

	total := len(info.Siblings)
	for i, file := range info.Siblings {
		index := i + 1
		dest := filepath.Join(snapshot, file.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return faults.Wrap(faults.ErrInstall, "model", "provision",
				fmt.Sprintf("could not create directory for %s", file.Name), err)
		}
		if info, err := os.Stat(dest); err == nil && (file.Size == 0 || info.Size() == file.Size) {
			// Already complete from a previous attempt.
			obs.FileProgress(index, total, file.Name, info.Size(), file.Size, 100)
			continue
		}

		obs.FileStart(index, total, file.Name, file.Size)
		url := registry.FileURL(cache.RepoID, info.SHA, file.Name)
		if err := fetchFile(ctx, registry, url, dest, index, total, file, obs); err != nil {
			return err
		}
	}

	if err := cache.WriteRef(info.SHA); err != nil {
		return faults.Wrap(faults.ErrInstall, "model", "provision",
			"snapshot complete but ref pointer could not be written", err)
	}
	return nil
}

func fetchFile(ctx context.Context, registry *Registry, url, dest string, index, totalFiles int, file ModelFile, obs FileObserver) error {
	part := dest + ".part"
	_ = os.Remove(part)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return faults.Wrap(faults.ErrNetwork, "model", "download",
			fmt.Sprintf("could not build request for %s", file.Name), err)
	}
	req.Header.Set("User-Agent", webclient.UserAgent)

	started := time.Now()
	stopHeartbeat := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopHeartbeat:
				return
			case <-ticker.C:
				var done int64
				if info, err := os.Stat(part); err == nil {
					done = info.Size()
				}
				obs.FileHeartbeat(index, totalFiles, file.Name, time.Since(started), file.Size, done, file.Size)
			}
		}
	}()
	defer close(stopHeartbeat)

	resp, err := registry.client.Do(req)
	if err != nil {
		return faults.Wrap(faults.ErrNetwork, "model", "download",
			fmt.Sprintf("download of %s failed", file.Name), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return faults.Wrap(faults.ErrNetwork, "model", "download",
			fmt.Sprintf("download of %s returned status %d", file.Name, resp.StatusCode), nil)
	}

	out, err := os.Create(part)
	if err != nil {
		return faults.Wrap(faults.ErrInstall, "model", "download",
			fmt.Sprintf("could not create %s", part), err)
	}

	contentTotal := resp.ContentLength
	if contentTotal <= 0 {
		contentTotal = file.Size
	}
	var done int64
	buf := make([]byte, copyChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				_ = os.Remove(part)
				return faults.Wrap(faults.ErrInstall, "model", "download",
					fmt.Sprintf("could not write %s", file.Name), writeErr)
			}
			done += int64(n)
			pct := 0.0
			if contentTotal > 0 {
				pct = float64(done) / float64(contentTotal) * 100
			}
			obs.FileProgress(index, totalFiles, file.Name, done, contentTotal, pct)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			_ = os.Remove(part)
			return faults.Wrap(faults.ErrNetwork, "model", "download",
				fmt.Sprintf("download of %s interrupted", file.Name), readErr)
		}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(part)
		return faults.Wrap(faults.ErrInstall, "model", "download",
			fmt.Sprintf("could not finish %s", file.Name), err)
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return faults.Wrap(faults.ErrInstall, "model", "download",
			fmt.Sprintf("could not move %s into place", file.Name), err)
	}
	return nil
}

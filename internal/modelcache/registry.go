package modelcache

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quill/internal/faults"
	"quill/internal/webclient"
)

// ModelFile is one downloadable file inside a model revision.
type ModelFile struct {
	Name string `json:"rfilename"`
	Size int64  `json:"size"`
}

// ModelInfo is the registry's description of a repository at its current
// head revision.
type ModelInfo struct {
	SHA      string      `json:"sha"`
	Siblings []ModelFile `json:"siblings"`
}

// Registry looks up model metadata and resolves file URLs.
type Registry struct {
	BaseURL string
	client  *http.Client
}

// NewRegistry builds a registry client. The HTTP client carries no overall
// timeout; callers bound lookups with LookupDetached or a request context.
// A CA bundle that cannot be read falls back to the system pool.
func NewRegistry(baseURL, caBundle string) *Registry {
	client, err := webclient.New(caBundle, 0)
	if err != nil || client == nil {
		client = &http.Client{}
	}
	return &Registry{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// FileURL is the direct download location for one file of a pinned revision.
func (r *Registry) FileURL(repoID, sha, name string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", r.BaseURL, repoID, sha, name)
}

// Lookup fetches the repository's head revision metadata.
func (r *Registry) Lookup(repoID string) (ModelInfo, error) {
	url := fmt.Sprintf("%s/api/models/%s", r.BaseURL, repoID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return ModelInfo{}, faults.Wrap(faults.ErrNetwork, "model-registry", "lookup",
			"could not build registry request", err)
	}
	req.Header.Set("User-Agent", webclient.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return ModelInfo{}, faults.Wrap(faults.ErrNetwork, "model-registry", "lookup",
			"registry unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ModelInfo{}, faults.Wrap(faults.ErrNetwork, "model-registry", "lookup",
			fmt.Sprintf("registry returned status %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ModelInfo{}, faults.Wrap(faults.ErrNetwork, "model-registry", "lookup",
			"could not read registry response", err)
	}
	var info ModelInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ModelInfo{}, faults.Wrap(faults.ErrNetwork, "model-registry", "lookup",
			"registry response is not valid JSON", err)
	}
	info.SHA = strings.ToLower(strings.TrimSpace(info.SHA))
	if !ValidRevision(info.SHA) {
		return ModelInfo{}, faults.Wrap(faults.ErrNetwork, "model-registry", "lookup",
			fmt.Sprintf("registry returned unusable revision %q", info.SHA), nil)
	}
	return info, nil
}

// LookupDetached runs Lookup on a background goroutine and abandons it after
// timeout. The goroutine is detached, not cancelled: a DNS stall must not be
// able to hold up the caller, and the straggler touches no shared state once
// the result channel is buffered.
func (r *Registry) LookupDetached(repoID string, timeout time.Duration) (ModelInfo, error) {
	type result struct {
		info ModelInfo
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		info, err := r.Lookup(repoID)
		ch <- result{info: info, err: err}
	}()

	select {
	case res := <-ch:
		return res.info, res.err
	case <-time.After(timeout):
		return ModelInfo{}, faults.Wrap(faults.ErrNetwork, "model-registry", "lookup",
			fmt.Sprintf("registry lookup abandoned after %s", timeout), nil)
	}
}

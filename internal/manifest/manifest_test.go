package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quill/internal/config"
	"quill/internal/faults"
	"quill/internal/logging"
)

const validSHA = "a665a45920422f9d417e4867efdc4fb8a04a1f3fff1fa07e998e86f7f7a27ae3"

func validRaw() []byte {
	return []byte(`{
		"runtime_version": "0.1.9",
		"payload_url": "https://example.com/runtime_payload.tar.gz",
		"payload_sha256": "` + validSHA + `"
	}`)
}

func TestValidateAcceptsWellFormedManifest(t *testing.T) {
	m, err := Validate(validRaw())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if m.RuntimeVersion != "0.1.9" {
		t.Errorf("runtime version = %q", m.RuntimeVersion)
	}
	if m.PayloadSHA256 != validSHA {
		t.Errorf("sha = %q", m.PayloadSHA256)
	}
}

func TestValidateRoundTrip(t *testing.T) {
	m, err := Validate(validRaw())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	serialized, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	again, err := Validate(serialized)
	if err != nil {
		t.Fatalf("Validate round trip: %v", err)
	}
	if again != m {
		t.Fatalf("round trip mismatch: %+v vs %+v", again, m)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]string{
		"missing version":  `{"payload_url":"https://x/p.tar.gz","payload_sha256":"` + validSHA + `"}`,
		"missing url":      `{"runtime_version":"0.1.9","payload_sha256":"` + validSHA + `"}`,
		"missing sha":      `{"runtime_version":"0.1.9","payload_url":"https://x/p.tar.gz"}`,
		"mistyped version": `{"runtime_version":19,"payload_url":"https://x/p.tar.gz","payload_sha256":"` + validSHA + `"}`,
		"bad version":      `{"runtime_version":"v1.2","payload_url":"https://x/p.tar.gz","payload_sha256":"` + validSHA + `"}`,
		"short sha":        `{"runtime_version":"0.1.9","payload_url":"https://x/p.tar.gz","payload_sha256":"abc123"}`,
		"uppercase sha":    `{"runtime_version":"0.1.9","payload_url":"https://x/p.tar.gz","payload_sha256":"` + strings.ToUpper(validSHA) + `"}`,
		"http url":         `{"runtime_version":"0.1.9","payload_url":"http://x/p.tar.gz","payload_sha256":"` + validSHA + `"}`,
		"not json":         `runtime_version=0.1.9`,
		"not an object":    `["0.1.9"]`,
	}
	for name, raw := range cases {
		if _, err := Validate([]byte(raw)); !errors.Is(err, faults.ErrManifest) {
			t.Errorf("%s: error = %v, want ErrManifest", name, err)
		}
	}
}

func TestValidateLowercasesDigest(t *testing.T) {
	// Whitespace around fields is tolerated; the digest itself must already
	// be lowercase per the wire contract.
	raw := []byte(`{
		"runtime_version": " 0.1.9 ",
		"payload_url": " https://example.com/p.tar.gz ",
		"payload_sha256": " ` + validSHA + ` "
	}`)
	m, err := Validate(raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if m.RuntimeVersion != "0.1.9" || m.PayloadURL != "https://example.com/p.tar.gz" {
		t.Fatalf("fields not trimmed: %+v", m)
	}
}

func newTestConfig(t *testing.T, manifestURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.AppSupportDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.ModelCacheDir = t.TempDir()
	cfg.Update.ManifestURL = manifestURL
	return &cfg
}

func TestClientFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		w.Write(validRaw())
	}))
	defer server.Close()

	cfg := newTestConfig(t, server.URL)
	client := NewClient(cfg, logging.NewNop())

	m, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if m.RuntimeVersion != "0.1.9" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestClientFetchConnectionRefusedIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	cfg := newTestConfig(t, url)
	client := NewClient(cfg, logging.NewNop())

	if _, err := client.Fetch(context.Background()); !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
}

func TestClientFetchServerErrorIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := newTestConfig(t, server.URL)
	client := NewClient(cfg, logging.NewNop())

	if _, err := client.Fetch(context.Background()); !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
}

func TestClientFetchMalformedBodyIsManifestError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"runtime_version":"nope"}`))
	}))
	defer server.Close()

	cfg := newTestConfig(t, server.URL)
	client := NewClient(cfg, logging.NewNop())

	if _, err := client.Fetch(context.Background()); !errors.Is(err, faults.ErrManifest) {
		t.Fatalf("error = %v, want ErrManifest", err)
	}
}

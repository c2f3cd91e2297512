// Package webclient builds the HTTPS clients used for manifest and payload
// transfers. Trust roots are resolved in a fixed order: explicit bundle from
// configuration (or env override), then well-known OS certificate bundle
// locations, then the process default pool. When TLS verification still
// fails, callers retry once through the platform curl binary, which carries
// its own trust store.
package webclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

const UserAgent = "QuillBootstrap/1.0"

// Well-known CA bundle locations, probed in order.
var systemBundlePaths = []string{
	"/etc/ssl/cert.pem",
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
	"/opt/homebrew/etc/ca-certificates/cert.pem",
	"/usr/local/etc/ca-certificates/cert.pem",
}

// ResolveCABundle returns the first readable CA bundle path, preferring the
// explicit override. Empty means "use the default pool".
func ResolveCABundle(override string) string {
	if path := strings.TrimSpace(override); path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	for _, path := range systemBundlePaths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// New constructs an HTTP client with the resolved trust roots and a hard
// request timeout.
func New(caBundle string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if path := ResolveCABundle(caBundle); path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle %q: %w", path, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca bundle %q contains no certificates", path)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// IsTLSError reports whether err stems from certificate verification, which
// is the only failure the curl fallback can help with.
func IsTLSError(err error) bool {
	if err == nil {
		return false
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostname x509.HostnameError
	if errors.As(err, &hostname) {
		return true
	}
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		return true
	}
	var verification *tls.CertificateVerificationError
	return errors.As(err, &verification)
}

// CurlFetch downloads url to dest using the system curl binary. This is the
// one-shot fallback for hosts where no usable Go-visible trust store exists.
func CurlFetch(ctx context.Context, url, dest string, timeout time.Duration) error {
	curl, err := exec.LookPath("curl")
	if err != nil {
		return fmt.Errorf("curl not available: %w", err)
	}
	args := []string{
		"-fsSL",
		"--max-time", fmt.Sprintf("%d", int(timeout.Seconds())),
		"-A", UserAgent,
		"-o", dest,
		url,
	}
	cmd := exec.CommandContext(ctx, curl, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			return fmt.Errorf("curl fetch failed: %w", err)
		}
		return fmt.Errorf("curl fetch failed: %s: %w", detail, err)
	}
	return nil
}

package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"quill/internal/faults"
	"quill/internal/logging"
)

func servePayload(t *testing.T, payload []byte, declareLength bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if declareLength {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.Write(payload)
			return
		}
		// Flush forces chunked transfer with no Content-Length.
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		w.Write(payload)
	}))
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestFetchWithHashSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte("quill-payload-"), 64*1024)
	server := servePayload(t, payload, true)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "payload.tar.gz")
	d := New("", logging.NewNop())

	var lastDone, lastTotal int64
	observer := ObserverFunc(func(done, total int64) {
		lastDone, lastTotal = done, total
	})

	err := d.FetchWithHash(context.Background(), server.URL, digestOf(payload), dest, time.Minute, observer)
	if err != nil {
		t.Fatalf("FetchWithHash: %v", err)
	}
	if lastDone != int64(len(payload)) {
		t.Errorf("observer saw %d bytes, want %d", lastDone, len(payload))
	}
	if lastTotal != int64(len(payload)) {
		t.Errorf("observer saw total %d, want %d", lastTotal, len(payload))
	}

	written, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if !bytes.Equal(written, payload) {
		t.Fatal("payload content mismatch")
	}
}

func TestFetchWithHashUnknownTotal(t *testing.T) {
	payload := []byte("small payload with no declared length")
	server := servePayload(t, payload, false)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "payload.bin")
	d := New("", logging.NewNop())

	sawUnknown := false
	observer := ObserverFunc(func(done, total int64) {
		if total == UnknownTotal {
			sawUnknown = true
		}
	})

	if err := d.FetchWithHash(context.Background(), server.URL, digestOf(payload), dest, time.Minute, observer); err != nil {
		t.Fatalf("FetchWithHash: %v", err)
	}
	if !sawUnknown {
		t.Error("observer never saw UnknownTotal for chunked transfer")
	}
}

func TestFetchWithHashTamperedPayload(t *testing.T) {
	payload := []byte("original runtime payload bytes")
	tampered := append([]byte{}, payload...)
	tampered[7] ^= 0x01 // single bit flip

	server := servePayload(t, tampered, true)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "payload.bin")
	d := New("", logging.NewNop())

	expected := digestOf(payload)
	err := d.FetchWithHash(context.Background(), server.URL, expected, dest, time.Minute, nil)
	if !errors.Is(err, faults.ErrIntegrity) {
		t.Fatalf("error = %v, want ErrIntegrity", err)
	}
	if !strings.Contains(err.Error(), expected[:12]) {
		t.Errorf("error missing expected digest prefix: %v", err)
	}
	if !strings.Contains(err.Error(), digestOf(tampered)[:12]) {
		t.Errorf("error missing actual digest prefix: %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("tampered file left at destination")
	}
}

func TestFetchWithHashRemovesStalePartial(t *testing.T) {
	payload := []byte("fresh payload")
	server := servePayload(t, payload, true)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(dest, []byte("stale partial content from failed attempt"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	d := New("", logging.NewNop())
	if err := d.FetchWithHash(context.Background(), server.URL, digestOf(payload), dest, time.Minute, nil); err != nil {
		t.Fatalf("FetchWithHash: %v", err)
	}
	written, _ := os.ReadFile(dest)
	if !bytes.Equal(written, payload) {
		t.Fatal("stale content not replaced")
	}
}

func TestFetchWithHashNetworkFailure(t *testing.T) {
	server := servePayload(t, nil, true)
	url := server.URL
	server.Close()

	dest := filepath.Join(t.TempDir(), "payload.bin")
	d := New("", logging.NewNop())

	err := d.FetchWithHash(context.Background(), url, digestOf([]byte("x")), dest, time.Second, nil)
	if !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
}

func TestFetchWithHashHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "payload.bin")
	d := New("", logging.NewNop())

	err := d.FetchWithHash(context.Background(), server.URL, digestOf([]byte("x")), dest, time.Second, nil)
	if !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
}

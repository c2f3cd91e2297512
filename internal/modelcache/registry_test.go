package modelcache

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quill/internal/faults"
)

func TestLookupSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/models/owner/model" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"sha": %q, "siblings": [{"rfilename": "config.json", "size": 321}]}`, shaA)
	}))
	defer server.Close()

	registry := NewRegistry(server.URL, "")
	info, err := registry.Lookup("owner/model")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.SHA != shaA {
		t.Fatalf("SHA = %q, want %q", info.SHA, shaA)
	}
	if len(info.Siblings) != 1 || info.Siblings[0].Name != "config.json" {
		t.Fatalf("siblings = %+v", info.Siblings)
	}
}

func TestLookupNormalizesSHA(t *testing.T) {
	upper := "0123456789ABCDEF0123456789ABCDEF01234567"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sha": " %s ", "siblings": []}`, upper)
	}))
	defer server.Close()

	info, err := NewRegistry(server.URL, "").Lookup("owner/model")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.SHA != shaA {
		t.Fatalf("SHA = %q, want lowercased trimmed %q", info.SHA, shaA)
	}
}

func TestLookupRejectsBadRevision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha": "main", "siblings": []}`)
	}))
	defer server.Close()

	_, err := NewRegistry(server.URL, "").Lookup("owner/model")
	if !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestLookupServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewRegistry(server.URL, "").Lookup("owner/model")
	if !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestLookupDetachedAbandonsSlowLookup(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	registry := NewRegistry(server.URL, "")
	start := time.Now()
	_, err := registry.LookupDetached("owner/model", 50*time.Millisecond)
	if !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("lookup took %s, should abandon near the timeout", elapsed)
	}
}

func TestFileURL(t *testing.T) {
	registry := NewRegistry("https://registry.example/", "")
	got := registry.FileURL("owner/model", shaA, "weights.bin")
	want := "https://registry.example/owner/model/resolve/" + shaA + "/weights.bin"
	if got != want {
		t.Fatalf("FileURL = %q, want %q", got, want)
	}
}

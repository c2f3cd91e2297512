package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesMarker(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := Wrap(ErrNetwork, "manifest", "fetch", "GET failed", inner)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("wrapped error lost its marker: %v", err)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("wrapped error lost its cause: %v", err)
	}
}

func TestWrapNilMarkerDefaultsToInstall(t *testing.T) {
	err := Wrap(nil, "installer", "extract", "", nil)
	if !errors.Is(err, ErrInstall) {
		t.Fatalf("nil marker should default to ErrInstall, got %v", err)
	}
}

func TestClassification(t *testing.T) {
	integrity := Wrap(ErrIntegrity, "download", "verify", "hash mismatch", nil)
	if !Blocking(integrity) {
		t.Error("integrity errors must block")
	}
	if Recoverable(integrity) {
		t.Error("integrity errors must not be recoverable")
	}

	network := Wrap(ErrNetwork, "manifest", "fetch", "", errors.New("timeout"))
	if Blocking(network) {
		t.Error("network errors must not block")
	}
	if !Recoverable(network) {
		t.Error("network errors must be recoverable")
	}
}

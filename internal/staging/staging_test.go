package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"quill/internal/logging"
)

func TestNewDirUnique(t *testing.T) {
	parent := t.TempDir()
	a := NewDir(parent)
	b := NewDir(parent)
	if a == b {
		t.Fatalf("NewDir returned duplicate path %q", a)
	}
	if !IsStagingDir(filepath.Base(a)) {
		t.Fatalf("NewDir base %q not recognized as staging dir", filepath.Base(a))
	}
}

func TestSweepRemovesOnlyOldStagingDirs(t *testing.T) {
	parent := t.TempDir()

	old := filepath.Join(parent, dirPrefix+"old")
	fresh := filepath.Join(parent, dirPrefix+"fresh")
	unrelated := filepath.Join(parent, "runtime")
	for _, dir := range []string{old, fresh, unrelated} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(unrelated, stale, stale); err != nil {
		t.Fatal(err)
	}

	removed, err := Sweep(parent, SweepAge, logging.NewNop())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d trees, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("old staging tree not removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh staging tree should survive the sweep")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatal("non-staging directory should never be swept")
	}
}

func TestSweepMissingParent(t *testing.T) {
	removed, err := Sweep(filepath.Join(t.TempDir(), "absent"), SweepAge, logging.NewNop())
	if err != nil {
		t.Fatalf("Sweep on missing parent: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

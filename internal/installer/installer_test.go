package installer

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"quill/internal/faults"
	"quill/internal/logging"
	"quill/internal/protocol"
	rt "quill/internal/runtime"
)

type tarEntry struct {
	name string
	body string
	mode int64
	dir  bool
}

func buildPayload(t *testing.T, entries []tarEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, entry := range entries {
		header := &tar.Header{Name: entry.name, Mode: entry.mode}
		if entry.dir {
			header.Typeflag = tar.TypeDir
		} else {
			header.Typeflag = tar.TypeReg
			header.Size = int64(len(entry.body))
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatal(err)
		}
		if !entry.dir {
			if _, err := tw.Write([]byte(entry.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractBuildsFreshTree(t *testing.T) {
	payload := buildPayload(t, []tarEntry{
		{name: "python/bin", dir: true, mode: 0o755},
		{name: "python/bin/python3", body: "#!/fake\n", mode: 0o644},
		{name: "app/src/main.py", body: "print('hi')\n", mode: 0o644},
	})
	staging := filepath.Join(t.TempDir(), "staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	leftover := filepath.Join(staging, "stale-file")
	if err := os.WriteFile(leftover, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Extract(payload, staging); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatal("pre-existing staging content survived extraction")
	}
	raw, err := os.ReadFile(filepath.Join(staging, "app", "src", "main.py"))
	if err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if string(raw) != "print('hi')\n" {
		t.Fatal("extracted file content mismatch")
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	payload := buildPayload(t, []tarEntry{
		{name: "../escape", body: "x", mode: 0o644},
	})
	err := Extract(payload, filepath.Join(t.TempDir(), "staging"))
	if !errors.Is(err, faults.ErrInstall) {
		t.Fatalf("err = %v, want ErrInstall", err)
	}
}

func TestExtractRejectsCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.gz")
	if err := os.WriteFile(path, []byte("definitely not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := Extract(path, filepath.Join(t.TempDir(), "staging"))
	if !errors.Is(err, faults.ErrInstall) {
		t.Fatalf("err = %v, want ErrInstall", err)
	}
}

func TestEnsureExecutable(t *testing.T) {
	binDir := filepath.Join(t.TempDir(), "python", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	plain := filepath.Join(binDir, "python3")
	if err := os.WriteFile(plain, []byte("#!/fake\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureExecutable(binDir); err != nil {
		t.Fatalf("EnsureExecutable: %v", err)
	}
	info, err := os.Stat(plain)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("file not owner-executable: %o", info.Mode().Perm())
	}
}

func TestEnsureExecutableMissingDir(t *testing.T) {
	if err := EnsureExecutable(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatalf("missing bin dir should not error: %v", err)
	}
}

func TestClearQuarantineWalksWithoutError(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "nested", "file"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ClearQuarantine(root); err != nil {
		t.Fatalf("ClearQuarantine: %v", err)
	}
}

func fakeProvisioner(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell provisioner stub")
	}
	path := filepath.Join(t.TempDir(), "quill-installer")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInstallHappyPath(t *testing.T) {
	payload := buildPayload(t, []tarEntry{
		{name: "python/bin/python3", body: "#!/fake\n", mode: 0o644},
		{name: "app/src/main.py", body: "print('hi')\n", mode: 0o644},
	})
	staging := filepath.Join(t.TempDir(), "staging")
	child := fakeProvisioner(t, `
echo "STEP:1/3:creating virtual environment"
echo "STEP:2/3:upgrading packaging tooling"
echo "STEP:3/3:installing dependencies"
`)

	var steps []protocol.Step
	err := New(logging.NewNop()).Install(context.Background(), Options{
		PayloadPath:  payload,
		StagingDir:   staging,
		Version:      "1.3.0",
		InstallerBin: child,
		OnEvent: func(ev protocol.Event) {
			if step, ok := ev.(protocol.Step); ok {
				steps = append(steps, step)
			}
		},
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	inst := rt.At(staging)
	if !inst.Valid() {
		t.Fatal("staging tree not marked installed")
	}
	if got := inst.Version(); got != "1.3.0" {
		t.Fatalf("version marker = %q, want 1.3.0", got)
	}
	if len(steps) != 3 || steps[2].Message != "installing dependencies" {
		t.Fatalf("steps = %+v", steps)
	}
}

func TestInstallChildFailureKeepsStagingUnmarked(t *testing.T) {
	payload := buildPayload(t, []tarEntry{
		{name: "app/src/main.py", body: "x", mode: 0o644},
	})
	staging := filepath.Join(t.TempDir(), "staging")
	child := fakeProvisioner(t, `
echo "STEP:1/3:creating virtual environment"
echo "pip exploded: no matching distribution"
exit 3
`)

	err := New(logging.NewNop()).Install(context.Background(), Options{
		PayloadPath:  payload,
		StagingDir:   staging,
		Version:      "1.3.0",
		InstallerBin: child,
	})
	if !errors.Is(err, faults.ErrInstall) {
		t.Fatalf("err = %v, want ErrInstall", err)
	}
	if !strings.Contains(err.Error(), "pip exploded") {
		t.Fatalf("error should surface the child's last output, got: %v", err)
	}

	if rt.At(staging).Valid() {
		t.Fatal("failed attempt must not produce a marked installation")
	}
	if _, statErr := os.Stat(staging); statErr != nil {
		t.Fatal("staging tree should be left in place for diagnostics")
	}
}

func TestAppendTailKeepsLastLines(t *testing.T) {
	var tail []string
	for i := 0; i < tailKeep+15; i++ {
		tail = appendTail(tail, strings.Repeat("x", 1)+string(rune('a'+i%26)))
	}
	if len(tail) != tailKeep {
		t.Fatalf("tail length = %d, want %d", len(tail), tailKeep)
	}
}

package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"quill/internal/faults"
	"quill/internal/logging"
)

func stubInstallation(t *testing.T) Installation {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell interpreter stub")
	}
	inst := At(t.TempDir())
	venvBin := filepath.Join(inst.Root, "venv", "bin")
	if err := os.MkdirAll(venvBin, 0o755); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\necho \"$QUILL_MODEL_CACHE\" > \"$1.out\"\n"
	if err := os.WriteFile(inst.VenvPython(), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(inst.AppSourceDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	entry := filepath.Join(inst.Root, "app", "src", "main.py")
	if err := os.WriteFile(entry, []byte("# entry\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return inst
}

func TestLaunchStartsChildWithEnvironment(t *testing.T) {
	inst := stubInstallation(t)
	modelDir := t.TempDir()

	pid, err := Launch(context.Background(), inst, LaunchOptions{
		AppEntry:      filepath.Join("app", "src", "main.py"),
		ModelCacheDir: modelDir,
		LogDir:        t.TempDir(),
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("pid = %d, want positive", pid)
	}

	// The stub writes its model cache env var next to the entry script.
	outPath := filepath.Join(inst.Root, "app", "src", "main.py.out")
	deadline := time.Now().Add(2 * time.Second)
	for {
		raw, readErr := os.ReadFile(outPath)
		if readErr == nil {
			if got := strings.TrimSpace(string(raw)); got != modelDir {
				t.Fatalf("child QUILL_MODEL_CACHE = %q, want %q", got, modelDir)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("child never wrote its output file")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLaunchMissingInterpreter(t *testing.T) {
	inst := At(t.TempDir())
	_, err := Launch(context.Background(), inst, LaunchOptions{AppEntry: "app/src/main.py"}, logging.NewNop())
	if !errors.Is(err, faults.ErrInstall) {
		t.Fatalf("err = %v, want ErrInstall", err)
	}
}

func TestLaunchMissingEntry(t *testing.T) {
	inst := stubInstallation(t)
	_, err := Launch(context.Background(), inst, LaunchOptions{AppEntry: "app/src/absent.py"}, logging.NewNop())
	if !errors.Is(err, faults.ErrInstall) {
		t.Fatalf("err = %v, want ErrInstall", err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	defaultManifestURL = "https://updates.quillapp.io/runtime/manifest.json"
	defaultRegistryURL = "https://huggingface.co"
	defaultModelRepo   = "mlx-community/parakeet-tdt-0.6b-v2"
)

// Default returns the built-in configuration. Paths follow platform
// conventions: Application Support on macOS, XDG directories elsewhere.
func Default() Config {
	return Config{
		Paths: Paths{
			AppSupportDir: defaultAppSupportDir(),
			LogDir:        defaultLogDir(),
			ModelCacheDir: filepath.Join(defaultAppSupportDir(), "model_cache"),
		},
		Update: Update{
			ManifestURL:            defaultManifestURL,
			ManifestTimeoutSeconds: 3,
			DownloadTimeoutMinutes: 30,
			IntegrityRetries:       1,
		},
		Model: Model{
			RegistryURL:            defaultRegistryURL,
			RepoID:                 defaultModelRepo,
			CheckIntervalHours:     24,
			FetchTimeoutSeconds:    3,
			DownloadTimeoutMinutes: 60,
		},
		Launch: Launch{
			AppEntry: filepath.Join("app", "src", "main.py"),
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

func defaultAppSupportDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "quill")
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Quill")
	}
	if base := os.Getenv("XDG_DATA_HOME"); base != "" {
		return filepath.Join(base, "quill")
	}
	return filepath.Join(home, ".local", "share", "quill")
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "quill", "logs")
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Logs", "Quill")
	}
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, "quill", "logs")
	}
	return filepath.Join(home, ".local", "state", "quill", "logs")
}

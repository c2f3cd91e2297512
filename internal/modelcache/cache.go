// Package modelcache manages the local machine-learning model cache: a
// registry-shaped directory of immutable snapshots keyed by 40-hex revision
// ids, with a ref pointer naming the active one. The cache is shared across
// runtime generations and migrated, never copied, on upgrades.
package modelcache

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"quill/internal/fileutil"
)

var revisionPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ValidRevision reports whether sha is a syntactically trustworthy revision
// id. Anything else is treated as absent, never as an error to act on.
func ValidRevision(sha string) bool {
	return revisionPattern.MatchString(sha)
}

// Cache is the on-disk model cache for one repository.
type Cache struct {
	// Root is the cache directory shared by all models.
	Root string
	// RepoID is the registry repository, e.g. "owner/name".
	RepoID string
}

// repoDir flattens "owner/name" into the cache's directory naming scheme.
func (c Cache) repoDir() string {
	return filepath.Join(c.Root, "models--"+strings.ReplaceAll(c.RepoID, "/", "--"))
}

// RefPath is the pointer file naming the active revision.
func (c Cache) RefPath() string {
	return filepath.Join(c.repoDir(), "refs", "main")
}

// SnapshotDir is the immutable tree for one revision.
func (c Cache) SnapshotDir(sha string) string {
	return filepath.Join(c.repoDir(), "snapshots", sha)
}

// LocalRevision resolves the currently installed revision: the ref pointer
// when it holds a valid id, otherwise the most recently modified snapshot
// directory with a valid name. Empty means no usable local model.
func (c Cache) LocalRevision() string {
	if raw, err := os.ReadFile(c.RefPath()); err == nil {
		sha := strings.TrimSpace(string(raw))
		if ValidRevision(sha) {
			return sha
		}
	}

	snapshots := filepath.Join(c.repoDir(), "snapshots")
	entries, err := os.ReadDir(snapshots)
	if err != nil {
		return ""
	}
	var (
		newest    string
		newestMod time.Time
	)
	for _, entry := range entries {
		if !entry.IsDir() || !ValidRevision(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = entry.Name()
			newestMod = info.ModTime()
		}
	}
	return newest
}

// WriteRef points refs/main at sha. The pointer is only ever advanced after
// the snapshot is fully downloaded.
func (c Cache) WriteRef(sha string) error {
	if !ValidRevision(sha) {
		return fmt.Errorf("refusing to write invalid revision %q", sha)
	}
	refDir := filepath.Dir(c.RefPath())
	if err := os.MkdirAll(refDir, 0o755); err != nil {
		return fmt.Errorf("create ref dir: %w", err)
	}
	if err := fileutil.AtomicWriteFile(c.RefPath(), []byte(sha+"\n"), 0o644); err != nil {
		return fmt.Errorf("write ref: %w", err)
	}
	return nil
}

// Migrate moves a cache tree from oldRoot into this cache's root. Used when
// an upgrade relocates the cache directory; the model files are large enough
// that a move is strongly preferred over a copy.
func (c Cache) Migrate(oldRoot string) error {
	if oldRoot == c.Root {
		return nil
	}
	if _, err := os.Stat(oldRoot); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("inspect old cache: %w", err)
	}
	if entries, err := os.ReadDir(c.Root); err == nil && len(entries) > 0 {
		// Destination already populated; leave both in place rather than
		// merging trees. An empty directory does not count: the startup
		// path pre-creates the cache dir before anything lives in it.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Root), 0o755); err != nil {
		return fmt.Errorf("create cache parent: %w", err)
	}
	if err := fileutil.MigrateDir(oldRoot, c.Root); err != nil {
		return fmt.Errorf("migrate model cache: %w", err)
	}
	return nil
}

// Package staging names and sweeps the per-attempt staging directories.
// Every update attempt builds into a fresh uniquely named tree; failed
// attempts leave theirs behind for diagnostics, so old ones are swept on a
// later startup once they are no longer interesting.
package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"quill/internal/logging"
)

const dirPrefix = "runtime_staging_"

// SweepAge is how long a leftover staging tree is kept for inspection.
const SweepAge = 24 * time.Hour

// NewDir returns a fresh, unique staging path under parent. The directory is
// not created; the extractor owns creation so it can guarantee a clean tree.
func NewDir(parent string) string {
	return filepath.Join(parent, dirPrefix+uuid.NewString())
}

// IsStagingDir reports whether name looks like one of our staging trees.
func IsStagingDir(name string) bool {
	return strings.HasPrefix(name, dirPrefix)
}

// Sweep removes staging directories under parent older than maxAge, keeping
// anything newer so a just-failed attempt stays inspectable. It returns the
// number of trees removed. Removal failures are logged and skipped.
func Sweep(parent string, maxAge time.Duration, logger *slog.Logger) (int, error) {
	log := logging.NewComponentLogger(logger, "staging")

	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read staging parent: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !IsStagingDir(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(parent, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn("could not remove stale staging tree",
				logging.String(logging.FieldPath, path),
				logging.Error(err))
			continue
		}
		log.Info("removed stale staging tree", logging.String(logging.FieldPath, path))
		removed++
	}
	return removed, nil
}

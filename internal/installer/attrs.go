//go:build !windows

package installer

import (
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"quill/internal/faults"
)

// quarantineAttr is the download-quarantine extended attribute macOS stamps
// on files written by network-facing processes. Binaries carrying it cannot
// be executed until it is removed.
const quarantineAttr = "com.apple.quarantine"

// ClearQuarantine strips the quarantine attribute from every entry under
// root. Files that never carried the attribute, and filesystems that do not
// support extended attributes at all, are not errors.
func ClearQuarantine(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		removeErr := unix.Removexattr(path, quarantineAttr)
		switch removeErr {
		case nil, errNoAttr, unix.ENOTSUP, unix.EPERM:
			return nil
		default:
			return faults.Wrap(faults.ErrInstall, "installer", "clear-quarantine",
				"could not strip quarantine attribute from "+path, removeErr)
		}
	})
}

// EnsureExecutable marks every regular file directly under binDir as
// owner-executable. A missing binDir means the payload shipped no native
// executables, which is fine.
func EnsureExecutable(binDir string) error {
	entries, err := os.ReadDir(binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return faults.Wrap(faults.ErrInstall, "installer", "normalize-permissions",
			"could not read bin directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(binDir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		mode := info.Mode()
		if !mode.IsRegular() {
			continue
		}
		if mode.Perm()&0o100 != 0 {
			continue
		}
		if err := os.Chmod(path, mode.Perm()|0o755); err != nil {
			return faults.Wrap(faults.ErrInstall, "installer", "normalize-permissions",
				"could not mark "+path+" executable", err)
		}
	}
	return nil
}

// Package installer performs the staged install: it turns a verified payload
// archive into a complete, marked installation tree inside a staging
// directory, without ever touching the active installation.
package installer

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"quill/internal/faults"
)

// Extract unpacks the payload archive into stagingDir. Any pre-existing tree
// at that path is destroyed first; staging is always built from scratch.
func Extract(payloadPath, stagingDir string) error {
	if err := os.RemoveAll(stagingDir); err != nil {
		return faults.Wrap(faults.ErrInstall, "installer", "extract",
			"could not clear staging directory", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return faults.Wrap(faults.ErrInstall, "installer", "extract",
			"could not create staging directory", err)
	}

	f, err := os.Open(payloadPath)
	if err != nil {
		return faults.Wrap(faults.ErrInstall, "installer", "extract",
			fmt.Sprintf("could not open payload at %s", payloadPath), err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return faults.Wrap(faults.ErrInstall, "installer", "extract",
			"payload is not a valid gzip stream", err)
	}
	defer gz.Close()

	reader := tar.NewReader(gz)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return faults.Wrap(faults.ErrInstall, "installer", "extract",
				"payload archive is corrupt", err)
		}
		if err := extractEntry(stagingDir, header, reader); err != nil {
			return err
		}
	}
}

func extractEntry(stagingDir string, header *tar.Header, reader io.Reader) error {
	target, err := securePath(stagingDir, header.Name)
	if err != nil {
		return err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, header.FileInfo().Mode().Perm()|0o700); err != nil {
			return faults.Wrap(faults.ErrInstall, "installer", "extract",
				fmt.Sprintf("could not create directory %s", header.Name), err)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return faults.Wrap(faults.ErrInstall, "installer", "extract",
				fmt.Sprintf("could not create parent for %s", header.Name), err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, header.FileInfo().Mode().Perm())
		if err != nil {
			return faults.Wrap(faults.ErrInstall, "installer", "extract",
				fmt.Sprintf("could not create %s", header.Name), err)
		}
		if _, err := io.Copy(out, reader); err != nil {
			out.Close()
			return faults.Wrap(faults.ErrInstall, "installer", "extract",
				fmt.Sprintf("could not write %s", header.Name), err)
		}
		if err := out.Close(); err != nil {
			return faults.Wrap(faults.ErrInstall, "installer", "extract",
				fmt.Sprintf("could not finish %s", header.Name), err)
		}
	case tar.TypeSymlink:
		// Links must stay inside the staging tree.
		if filepath.IsAbs(header.Linkname) {
			return faults.Wrap(faults.ErrInstall, "installer", "extract",
				fmt.Sprintf("payload contains absolute symlink %s", header.Name), nil)
		}
		if _, err := securePath(filepath.Dir(target), header.Linkname); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return faults.Wrap(faults.ErrInstall, "installer", "extract",
				fmt.Sprintf("could not create parent for %s", header.Name), err)
		}
		_ = os.Remove(target)
		if err := os.Symlink(header.Linkname, target); err != nil {
			return faults.Wrap(faults.ErrInstall, "installer", "extract",
				fmt.Sprintf("could not create symlink %s", header.Name), err)
		}
	default:
		// Hard links, devices and the like do not belong in a payload.
	}
	return nil
}

func securePath(root, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || cleaned == ".." {
		return "", faults.Wrap(faults.ErrInstall, "installer", "extract",
			fmt.Sprintf("payload entry %q escapes the staging directory", name), nil)
	}
	target := filepath.Join(root, cleaned)
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", faults.Wrap(faults.ErrInstall, "installer", "extract",
			fmt.Sprintf("payload entry %q escapes the staging directory", name), nil)
	}
	return target, nil
}

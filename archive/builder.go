// Package archive - Deterministic ZIP bundling of cutout files.
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-cutout/common"
)

// entryTime is stamped on every entry so rebuilds are byte-identical.
var entryTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

const entryMode os.FileMode = 0o644

// Build writes a ZIP archive at archivePath holding the files in paths, in
// order, under their base names. An existing archive is replaced atomically.
//
// Entries carry a fixed timestamp and mode, so the same files in the same
// order always produce the same bytes.
//
// Arguments:
// - paths: The files to bundle.
// - archivePath: Where to write the archive.
//
// Returns:
// - string: archivePath.
// - error: An error wrapping common.ErrArchive if any input is unreadable,
// two inputs share a base name, or the archive cannot be written.
//
// @example
// zipPath, err := Build([]string{"/tmp/s/cat_1.png", "/tmp/s/dog_2.png"}, "/tmp/s/objects_s.zip")
func Build(paths []string, archivePath string) (string, error) {
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		if _, dup := seen[name]; dup {
			return "", errors.Wrapf(common.ErrArchive, "duplicate entry name %q", name)
		}
		seen[name] = struct{}{}
	}

	dir := filepath.Dir(archivePath)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(archivePath)+"-*")
	if err != nil {
		return "", errors.Wrapf(common.ErrArchive, "create temp archive: %v", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, p := range paths {
		if err := addEntry(zw, p); err != nil {
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrapf(common.ErrArchive, "finalize archive: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", errors.Wrapf(common.ErrArchive, "sync archive: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrapf(common.ErrArchive, "close archive: %v", err)
	}
	if err := os.Chmod(tmpName, entryMode); err != nil {
		return "", errors.Wrapf(common.ErrArchive, "chmod archive: %v", err)
	}
	if err := os.Rename(tmpName, archivePath); err != nil {
		return "", errors.Wrapf(common.ErrArchive, "replace archive: %v", err)
	}
	committed = true
	return archivePath, nil
}

func addEntry(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(common.ErrArchive, "open %s: %v", path, err)
	}
	defer f.Close()

	hdr := &zip.FileHeader{
		Name:     filepath.Base(path),
		Method:   zip.Deflate,
		Modified: entryTime,
	}
	hdr.SetMode(entryMode)

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return errors.Wrapf(common.ErrArchive, "add %s: %v", hdr.Name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return errors.Wrapf(common.ErrArchive, "read %s: %v", path, err)
	}
	return nil
}

// Package session - Per-session file arenas keyed by opaque identifiers.
package session

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-cutout/common"
)

const (
	// ManifestName holds the ordered list of current cutouts.
	ManifestName = "manifest.json"
	// SourcePrefix starts the name of the stored upload. Cutout names never
	// start with it.
	SourcePrefix = "_source"

	tempPrefix = ".tmp-"
)

// Session is a handle on one session directory. All methods are safe for
// concurrent use; Lock sequences multi-step operations such as
// refine-then-rebuild.
type Session struct {
	id  string
	dir string

	// op serialises multi-step operations on the session's file set.
	op sync.Mutex
	// manifest guards manifest reads and writes.
	manifest sync.Mutex
}

func newSession(id, dir string) *Session {
	return &Session{id: id, dir: dir}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Dir returns the session directory.
func (s *Session) Dir() string { return s.dir }

// Lock acquires the session's operation lock.
func (s *Session) Lock() { s.op.Lock() }

// Unlock releases the session's operation lock.
func (s *Session) Unlock() { s.op.Unlock() }

// TryLock acquires the operation lock only if it is free.
func (s *Session) TryLock() bool { return s.op.TryLock() }

// Alive reports whether the session directory still exists.
func (s *Session) Alive() bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

// ArchiveName returns the per-session archive file name.
func (s *Session) ArchiveName() string {
	return fmt.Sprintf("objects_%s.zip", s.id)
}

// ArchivePath returns the absolute archive path.
func (s *Session) ArchivePath() string {
	return filepath.Join(s.dir, s.ArchiveName())
}

// Path resolves a file name inside the session directory. Names that could
// escape the directory or collide with internal files are rejected.
func (s *Session) Path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Errorf("invalid file name %q", name)
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return errors.Errorf("file name %q must not contain path elements", name)
	case strings.HasPrefix(name, tempPrefix):
		return errors.Errorf("file name %q is reserved", name)
	}
	return nil
}

// Exists reports whether name is present in the session.
func (s *Session) Exists(name string) bool {
	p, err := s.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// ReadFile returns the contents of name. A missing file yields an error
// wrapping common.ErrNotFound.
func (s *Session) ReadFile(name string) ([]byte, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, errors.Wrap(common.ErrNotFound, err.Error())
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(common.ErrNotFound, "file %s in session %s", name, s.id)
		}
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return data, nil
}

// WriteFile replaces name with data. The data goes to a temp file in the same
// directory which is then renamed over the target, so readers see either the
// old or the new contents.
func (s *Session) WriteFile(name string, data []byte) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	return writeAtomic(p, data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "chmod temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}

// Cutouts returns the current cutout names in extraction order.
func (s *Session) Cutouts() ([]string, error) {
	s.manifest.Lock()
	defer s.manifest.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, errors.Wrap(err, "read manifest")
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	return names, nil
}

// SetCutouts records the current cutout names in order.
func (s *Session) SetCutouts(names []string) error {
	for _, n := range names {
		if err := validateName(n); err != nil {
			return err
		}
	}
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}

	s.manifest.Lock()
	defer s.manifest.Unlock()
	return writeAtomic(filepath.Join(s.dir, ManifestName), data)
}

// CutoutPaths returns absolute paths of the current cutouts in order.
func (s *Session) CutoutPaths() ([]string, error) {
	names, err := s.Cutouts()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.dir, n)
	}
	return paths, nil
}

// HasCutout reports whether name is listed in the manifest.
func (s *Session) HasCutout(name string) (bool, error) {
	names, err := s.Cutouts()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Touch marks the session as active now, postponing idle expiry.
func (s *Session) Touch() error {
	now := time.Now()
	return os.Chtimes(s.dir, now, now)
}

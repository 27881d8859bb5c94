package session

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/nvr-ai/go-cutout/common"
)

// DefaultDirName is the directory created under the system temp dir when no
// base directory is configured.
const DefaultDirName = "instance_seg_app"

// DefaultMaxIdle is how long a session may go untouched before Sweep removes it.
const DefaultMaxIdle = 15 * time.Minute

// Store maps session identifiers to directories under a base path.
type Store struct {
	base string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates the base directory if needed and returns a Store rooted at
// it. An empty base selects <tmp>/instance_seg_app.
func NewStore(base string) (*Store, error) {
	if base == "" {
		base = filepath.Join(os.TempDir(), DefaultDirName)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create session base %s", base)
	}
	return &Store{
		base:     base,
		sessions: make(map[string]*Session),
	}, nil
}

// Base returns the base directory.
func (s *Store) Base() string { return s.base }

// Create allocates a new session with a random identifier.
func (s *Store) Create() (*Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(s.base, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create session %s", id)
	}

	sess := newSession(id, dir)
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess, nil
}

// Open returns the session for id. Unknown or malformed identifiers yield an
// error wrapping common.ErrNotFound. The same handle is returned for every
// call with the same id while the session exists.
func (s *Store) Open(id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.Wrapf(common.ErrNotFound, "session %q", id)
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		if _, err := os.Stat(sess.dir); err == nil {
			return sess, nil
		}
	}

	dir := filepath.Join(s.base, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		s.forget(id)
		return nil, errors.Wrapf(common.ErrNotFound, "session %s", id)
	}

	// Sessions created by an earlier process are adopted on first use.
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess = newSession(id, dir)
	s.sessions[id] = sess
	return sess, nil
}

// Remove deletes the session directory and forgets the handle.
func (s *Store) Remove(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.Wrapf(common.ErrNotFound, "session %q", id)
	}
	s.forget(id)
	if err := os.RemoveAll(filepath.Join(s.base, id)); err != nil {
		return errors.Wrapf(err, "remove session %s", id)
	}
	return nil
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Sweep removes every session directory whose modification time is older
// than maxIdle and returns the removed identifiers in sorted order. Failures
// on individual sessions are combined; the sweep continues past them.
// Sessions whose operation lock is held are left for a later sweep.
//
// Arguments:
// - maxIdle: Maximum idle duration.
//
// Returns:
// - []string: Removed session identifiers.
// - error: Combined errors from sessions that could not be inspected or removed.
//
// @example
// removed, err := store.Sweep(15 * time.Minute)
func (s *Store) Sweep(maxIdle time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return nil, errors.Wrapf(err, "list sessions in %s", s.base)
	}

	cutoff := time.Now().Add(-maxIdle)
	var (
		removed []string
		errs    error
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "stat %s", entry.Name()))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		id := entry.Name()
		ok, err := s.sweepOne(id, cutoff)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			removed = append(removed, id)
		}
	}

	sort.Strings(removed)
	return removed, errs
}

// sweepOne removes an idle session unless an operation holds its lock or
// touched it after the directory listing.
func (s *Store) sweepOne(id string, cutoff time.Time) (bool, error) {
	dir := filepath.Join(s.base, id)

	s.mu.RLock()
	sess := s.sessions[id]
	s.mu.RUnlock()
	if sess != nil {
		if !sess.TryLock() {
			return false, nil
		}
		defer sess.Unlock()
		info, err := os.Stat(dir)
		if err != nil || !info.ModTime().Before(cutoff) {
			return false, nil
		}
	}

	s.forget(id)
	if err := os.RemoveAll(dir); err != nil {
		return false, errors.Wrapf(err, "remove %s", id)
	}
	return true, nil
}

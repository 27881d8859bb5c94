package extract

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Dir stores cutouts in a plain directory.
type Dir string

// WriteFile writes data to name inside the directory.
func (d Dir) WriteFile(name string, data []byte) error {
	if name != filepath.Base(name) {
		return errors.Errorf("invalid cutout name %q", name)
	}
	if err := os.MkdirAll(string(d), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", d)
	}
	return os.WriteFile(filepath.Join(string(d), name), data, 0o644)
}

// Path returns the absolute location of name.
func (d Dir) Path(name string) string {
	return filepath.Join(string(d), name)
}

// ReadFile returns the contents of name inside the directory.
func (d Dir) ReadFile(name string) ([]byte, error) {
	if name != filepath.Base(name) {
		return nil, errors.Errorf("invalid cutout name %q", name)
	}
	return os.ReadFile(filepath.Join(string(d), name))
}

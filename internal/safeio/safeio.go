package safeio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DataFS resolves paths relative to a fixed data root and refuses anything
// that escapes it. All durable chatbot state (conversations, id registry,
// tickets) lives under one root so a misbuilt path can never write outside it.
type DataFS struct {
	absRoot string
}

// NewDataFS binds all future operations to the given root directory,
// creating it if needed. The root is resolved to an absolute path.
func NewDataFS(root string) (*DataFS, error) {
	if root == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("safeio: create root: %w", err)
	}
	return &DataFS{absRoot: abs}, nil
}

// Root returns the absolute root directory bound to this DataFS.
func (d *DataFS) Root() string {
	if d == nil {
		return ""
	}
	return d.absRoot
}

// Resolve joins userPath onto the root and rejects escapes.
func (d *DataFS) Resolve(userPath string) (string, error) {
	if d == nil {
		return "", errors.New("safeio: nil DataFS")
	}
	clean := filepath.Clean(strings.TrimSpace(userPath))
	if clean == "" || clean == "." {
		return "", errors.New("safeio: empty path")
	}
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("safeio: path escapes root: %q", userPath)
	}
	return filepath.Join(d.absRoot, clean), nil
}

// ReadFile reads a file relative to the root.
func (d *DataFS) ReadFile(userPath string) ([]byte, error) {
	p, err := d.Resolve(userPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a partial write.
func (d *DataFS) WriteFileAtomic(userPath string, data []byte) error {
	p, err := d.Resolve(userPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("safeio: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return fmt.Errorf("safeio: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("safeio: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("safeio: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("safeio: close temp: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("safeio: rename: %w", err)
	}
	return nil
}

// AppendLine appends one line (a trailing newline is added) to a file
// relative to the root, creating it if needed.
func (d *DataFS) AppendLine(userPath string, line []byte) error {
	p, err := d.Resolve(userPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("safeio: mkdir: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("safeio: open append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("safeio: append: %w", err)
	}
	return nil
}

// Exists reports whether a file exists under the root.
func (d *DataFS) Exists(userPath string) bool {
	p, err := d.Resolve(userPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Filesystem stores artifacts under a root directory.
type Filesystem struct {
	root string
}

// NewFilesystem creates a Filesystem archive rooted at dir.
func NewFilesystem(dir string) *Filesystem {
	return &Filesystem{root: dir}
}

func (a *Filesystem) path(location string) string {
	return filepath.Join(a.root, filepath.FromSlash(location))
}

func (a *Filesystem) URI(location string) string {
	abs, err := filepath.Abs(a.path(location))
	if err != nil {
		abs = a.path(location)
	}
	return "file://" + filepath.ToSlash(abs)
}

// Write stages blob in a temporary file, syncs it, and hard-links it into place
// so the final name never holds a partial artifact and is never clobbered.
func (a *Filesystem) Write(_ context.Context, location string, blob []byte) error {
	if err := validLocation(location); err != nil {
		return err
	}
	dst := a.path(location)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create archive dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact %s: %w", location, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync artifact %s: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact %s: %w", location, err)
	}

	if err := os.Link(tmpName, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, location)
		}
		return fmt.Errorf("publish artifact %s: %w", location, err)
	}
	return nil
}

func (a *Filesystem) Read(_ context.Context, location string) ([]byte, error) {
	if err := validLocation(location); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.path(location))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", location, err)
	}
	return data, nil
}

func (a *Filesystem) Delete(_ context.Context, location string) error {
	if err := validLocation(location); err != nil {
		return err
	}
	err := os.Remove(a.path(location))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", location, err)
	}
	return nil
}

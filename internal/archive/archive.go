// Package archive stores backup artifacts byte-for-byte at archive-relative
// locations such as "staging/20260102T030405.000000Z-manual.tfstate".
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when no artifact exists at a location.
	ErrNotFound = errors.New("artifact not found")
	// ErrExists is returned by Write when the location is already taken.
	ErrExists = errors.New("artifact already exists")
)

// Archive is durable storage for backup artifacts.
type Archive interface {
	// Write stores blob at location. It never overwrites an existing artifact.
	Write(ctx context.Context, location string, blob []byte) error
	// Read returns the artifact at location.
	Read(ctx context.Context, location string) ([]byte, error)
	// Delete removes the artifact at location. Deleting a missing artifact
	// returns ErrNotFound or nil, depending on the backend.
	Delete(ctx context.Context, location string) error
	// URI renders location as an absolute, human-readable reference.
	URI(location string) string
}

// validLocation rejects locations that could escape the archive root.
func validLocation(location string) error {
	if location == "" {
		return errors.New("empty artifact location")
	}
	clean := path.Clean(location)
	if clean != location || path.IsAbs(location) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("invalid artifact location %q", location)
	}
	return nil
}

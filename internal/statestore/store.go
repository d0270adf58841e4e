// Package statestore provides access to the authoritative remote state for each
// environment. Backends only need strong read-after-write consistency and an
// atomic put; the orchestrators build the safety protocol on top.
package statestore

import (
	"context"
	"errors"

	"github.com/edvin/statekeeper/internal/model"
)

// ErrNotFound is returned by Get when an environment has no current state.
var ErrNotFound = errors.New("remote state not found")

// Store is the remote state capability used by the orchestrators.
type Store interface {
	// Get returns the current state blob for env.
	Get(ctx context.Context, env model.Environment) ([]byte, error)
	// Put atomically replaces the current state blob for env.
	Put(ctx context.Context, env model.Environment, blob []byte) error
	// ListVersions returns the stored history for env, newest first.
	ListVersions(ctx context.Context, env model.Environment) ([]model.BlobRef, error)
	// Location describes where env's state lives, for logs and reports.
	Location(env model.Environment) string
}

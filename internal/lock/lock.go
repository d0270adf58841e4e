// Package lock serializes destructive operations on an environment's remote
// state. A Locker hands out one Lease per environment at a time; acquisition
// gives up after a timeout instead of queueing indefinitely.
package lock

import (
	"context"
	"errors"

	"github.com/edvin/statekeeper/internal/model"
)

var (
	// ErrHeld is returned when a lease could not be acquired before the timeout.
	ErrHeld = errors.New("lock is held by another operation")
	// ErrLost is returned by Refresh when the lease expired and was taken over.
	ErrLost = errors.New("lock was lost")
)

// Lease is an acquired lock. Release must be called exactly once.
type Lease interface {
	// Refresh confirms the lease is still held and, for expiring leases,
	// extends it by a full TTL. Callers refresh before each destructive step.
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker acquires per-environment leases.
type Locker interface {
	Acquire(ctx context.Context, env model.Environment) (Lease, error)
}

// Noop is a Locker that always succeeds immediately.
type Noop struct{}

func (Noop) Acquire(context.Context, model.Environment) (Lease, error) {
	return noopLease{}, nil
}

type noopLease struct{}

func (noopLease) Refresh(context.Context) error { return nil }

func (noopLease) Release(context.Context) error { return nil }

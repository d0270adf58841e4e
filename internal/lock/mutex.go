package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"

	"github.com/edvin/statekeeper/internal/model"
)

const mutexPollDelay = 250 * time.Millisecond

// MutexLocker uses a host-wide named mutex per environment. It serializes
// operators and jobs running on the same machine.
type MutexLocker struct {
	prefix  string
	timeout time.Duration
	clock   clock.Clock
}

// NewMutexLocker creates a MutexLocker. prefix namespaces the mutex names.
func NewMutexLocker(prefix string, timeout time.Duration) *MutexLocker {
	if prefix == "" {
		prefix = "statekeeper"
	}
	return &MutexLocker{prefix: prefix, timeout: timeout, clock: clock.WallClock}
}

// Name returns the mutex name used for env.
func (l *MutexLocker) Name(env model.Environment) string {
	return l.prefix + "-" + string(env)
}

func (l *MutexLocker) Acquire(ctx context.Context, env model.Environment) (Lease, error) {
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    l.Name(env),
		Clock:   l.clock,
		Delay:   mutexPollDelay,
		Timeout: l.timeout,
		Cancel:  ctx.Done(),
	})
	switch {
	case errors.Is(err, mutex.ErrTimeout):
		return nil, fmt.Errorf("%w: %s after %s", ErrHeld, l.Name(env), l.timeout)
	case errors.Is(err, mutex.ErrCancelled):
		return nil, fmt.Errorf("acquire %s: %w", l.Name(env), ctx.Err())
	case err != nil:
		return nil, fmt.Errorf("acquire %s: %w", l.Name(env), err)
	}
	return mutexLease{releaser: releaser}, nil
}

type mutexLease struct {
	releaser mutex.Releaser
}

// Refresh is a no-op: the mutex is held until released or the process exits.
func (m mutexLease) Refresh(context.Context) error { return nil }

func (m mutexLease) Release(context.Context) error {
	m.releaser.Release()
	return nil
}

package main

import (
	"errors"
	"fmt"

	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/confirm"
	"github.com/edvin/statekeeper/internal/core"
	"github.com/edvin/statekeeper/internal/model"
)

// Process exit codes.
const (
	ExitSuccess   = 0
	ExitError     = 1 // generic failure or bad usage
	ExitAborted   = 2
	ExitNotFound  = 3
	ExitIntegrity = 4
	ExitStorage   = 5
	ExitConflict  = 6
)

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// sweepError reports a verification sweep that found bad records.
type sweepError struct{ summary model.SweepSummary }

func (e *sweepError) Error() string {
	return fmt.Sprintf("verification failed: %d invalid, %d missing", e.summary.Invalid, e.summary.Missing)
}

func exitCode(err error) int {
	var sweepErr *sweepError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &sweepErr):
		if sweepErr.summary.Invalid > 0 {
			return ExitIntegrity
		}
		return ExitNotFound
	case errors.Is(err, core.ErrAborted), errors.Is(err, confirm.ErrNotInteractive):
		return ExitAborted
	// A backup that exists but fails verification is reported as both
	// not found and integrity; integrity is the more specific.
	case core.IsIntegrity(err):
		return ExitIntegrity
	case core.IsNotFound(err), errors.Is(err, model.ErrUnknownEnvironment), errors.Is(err, catalog.ErrNotFound):
		return ExitNotFound
	case core.IsConflict(err):
		return ExitConflict
	case core.IsStorage(err):
		return ExitStorage
	}
	return ExitError
}

package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edvin/statekeeper/internal/model"
)

// ErrAborted is returned when the operator declines a confirmation prompt.
var ErrAborted = errors.New("aborted by operator")

// opError carries the context every failure report needs.
type opError struct {
	Environment model.Environment
	Op          string
	Ref         string
	Err         error
}

func (e opError) format(class string) string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Environment != "" {
		fmt.Fprintf(&b, " %s", e.Environment)
	}
	if e.Ref != "" {
		fmt.Fprintf(&b, " (%s)", e.Ref)
	}
	b.WriteString(": ")
	b.WriteString(class)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// NotFoundError means an environment, backup or remote state does not exist.
type NotFoundError struct{ opError }

func (e *NotFoundError) Error() string { return e.format("not found") }
func (e *NotFoundError) Unwrap() error { return e.Err }

// IntegrityError means a blob failed structural verification.
type IntegrityError struct{ opError }

func (e *IntegrityError) Error() string { return e.format("integrity check failed") }
func (e *IntegrityError) Unwrap() error { return e.Err }

// StorageError means an archival or remote I/O operation failed.
type StorageError struct{ opError }

func (e *StorageError) Error() string { return e.format("storage failure") }
func (e *StorageError) Unwrap() error { return e.Err }

// ConflictError means a restore could not safely proceed: the pre-restore
// snapshot failed or another operation holds the environment's lock.
type ConflictError struct{ opError }

func (e *ConflictError) Error() string { return e.format("conflict") }
func (e *ConflictError) Unwrap() error { return e.Err }

func notFound(env model.Environment, op, ref string, err error) error {
	return &NotFoundError{opError{Environment: env, Op: op, Ref: ref, Err: err}}
}

func integrityFailure(env model.Environment, op, ref string, err error) error {
	return &IntegrityError{opError{Environment: env, Op: op, Ref: ref, Err: err}}
}

func storageFailure(env model.Environment, op, ref string, err error) error {
	return &StorageError{opError{Environment: env, Op: op, Ref: ref, Err: err}}
}

func conflict(env model.Environment, op, ref string, err error) error {
	return &ConflictError{opError{Environment: env, Op: op, Ref: ref, Err: err}}
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsIntegrity reports whether err is or wraps an IntegrityError.
func IsIntegrity(err error) bool {
	var e *IntegrityError
	return errors.As(err, &e)
}

// IsStorage reports whether err is or wraps a StorageError.
func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

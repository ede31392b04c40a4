package portfolio

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested portfolio does not exist.
	ErrNotFound = errors.New("portfolio: not found")
	// ErrAccessDenied indicates the caller does not own the portfolio.
	ErrAccessDenied = errors.New("portfolio: access denied")
)

// VersionConflictError reports a failed optimistic-write precondition: the
// stored version moved past the writer's baseline. It carries the current
// state so the client can re-baseline and resubmit.
type VersionConflictError struct {
	CurrentVersion int64
	Current        Snapshot
}

// Error describes the conflicting versions.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("portfolio: version conflict: stored version is %d", e.CurrentVersion)
}

// PersistenceError wraps a store-level failure with a machine-readable
// dotted code, mirroring the shape "<operation>.<reason>".
type PersistenceError struct {
	code string
	err  error
}

func (e *PersistenceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *PersistenceError) Unwrap() error {
	return e.err
}

// Code exposes the dotted operation.reason code.
func (e *PersistenceError) Code() string {
	return e.code
}

func newPersistenceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &PersistenceError{code: code, err: cause}
}

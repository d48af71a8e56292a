// Package errors provides error handling for pulseflow.
//
// This package re-exports github.com/cockroachdb/errors so every package gets
// stack traces, wrapping, hints and details from a single import:
//
//	if err := store.UpdateJob(ctx, job); err != nil {
//	    err = errors.Wrap(err, "failed to reschedule job")
//	    return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
//	}
//
// Engine failures are classified by the sentinels below. Concrete error types
// (for example execution.StructuralReferenceError) match them through errors.Is.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Marking and assertions
var (
	Mark                    = crdb.Mark
	AssertionFailedf        = crdb.AssertionFailedf
	CombineErrors           = crdb.CombineErrors
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Generic sentinels.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a concurrent modification or duplicate key
	ErrConflict = New("resource conflict")
)

// Engine error taxonomy.
var (
	// ErrStructuralReference: a persisted execution references a parent that is
	// not part of the same process instance. Fatal for the reconstruction, never retried.
	ErrStructuralReference = New("structural reference error")

	// ErrActivityEvaluation: an activity behavior failed while executing.
	ErrActivityEvaluation = New("activity evaluation failure")

	// ErrRetryExhausted: a job reached zero retries and an incident was raised.
	ErrRetryExhausted = New("job retries exhausted")

	// ErrLockConflict: another worker holds the lock on a job. Callers skip the job.
	ErrLockConflict = New("job lock conflict")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsLockConflict checks if an error is or wraps ErrLockConflict.
func IsLockConflict(err error) bool {
	return err != nil && Is(err, ErrLockConflict)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

package writer

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid message")

	// ErrVersionConflict matches every *VersionConflictError.
	ErrVersionConflict = errors.New("version conflict")
)

// ValidationError reports a write with a missing or malformed field. It is
// a caller bug and should not be retried.
type ValidationError struct {
	// Field names the offending field ("id", "type" or "expected_version").
	Field string
	// Reason is empty when the field is missing.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid message: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid message: missing %s", e.Field)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// VersionConflictError reports that a stream was not at the version the
// writer expected. Callers typically re-read the stream and retry.
type VersionConflictError struct {
	StreamName string
	Expected   int64
	Actual     int64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %q: expected %d, actual %d", e.StreamName, e.Expected, e.Actual)
}

// Is reports whether target is ErrVersionConflict.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// IsVersionConflict returns true if err is or wraps a VersionConflictError.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

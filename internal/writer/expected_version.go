package writer

import "fmt"

// ExpectedVersion is the optimistic concurrency precondition of a write.
type ExpectedVersion struct {
	value   int64
	invalid bool
}

const expectedVersionAny = -1

// AnyVersion skips the version check.
func AnyVersion() ExpectedVersion {
	return ExpectedVersion{value: expectedVersionAny}
}

// Exact requires the stream's last position to equal version. Exact(0)
// requires the stream to be empty.
//
// A negative version yields an invalid precondition that Write rejects with
// a *ValidationError.
func Exact(version int64) ExpectedVersion {
	return ExpectedVersion{value: version, invalid: version < 0}
}

// IsAny reports whether no check is requested.
func (v ExpectedVersion) IsAny() bool {
	return !v.invalid && v.value == expectedVersionAny
}

// Validate returns a *ValidationError for a negative exact version.
func (v ExpectedVersion) Validate() error {
	if v.invalid {
		return &ValidationError{
			Field:  "expected_version",
			Reason: fmt.Sprintf("must be non-negative, got %d", v.value),
		}
	}
	return nil
}

// Value returns the exact version. Only meaningful when IsAny is false.
func (v ExpectedVersion) Value() int64 {
	return v.value
}

// String returns "any" or the version number.
func (v ExpectedVersion) String() string {
	if v.IsAny() {
		return "any"
	}
	if v.invalid {
		return fmt.Sprintf("invalid(%d)", v.value)
	}
	return fmt.Sprintf("%d", v.value)
}

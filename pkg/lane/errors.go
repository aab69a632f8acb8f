package lane

import (
	"errors"
	"fmt"
)

// UnavailableError is returned when the lock backend cannot be reached.
type UnavailableError struct {
	Backend string
	Cause   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("lock backend %s unavailable: %v", e.Backend, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// AcquireError is returned when waiting for a lane ends before it is granted.
// It wraps the context error so callers can still match
// context.DeadlineExceeded.
type AcquireError struct {
	Key   string
	Cause error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("lane %s not acquired: %v", e.Key, e.Cause)
}

func (e *AcquireError) Unwrap() error { return e.Cause }

// IsUnavailableError returns true if err is an UnavailableError.
func IsUnavailableError(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

// IsAcquireError returns true if err is an AcquireError.
func IsAcquireError(err error) bool {
	var target *AcquireError
	return errors.As(err, &target)
}

package producer

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Start once the registry has been shut down.
var ErrClosed = errors.New("producer registry closed")

// InvalidParameterError rejects a request synchronously; no state changed.
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

// AlreadyRunningError reports a start for an id the registry already holds.
type AlreadyRunningError struct {
	ProducerID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("producer %q is already running", e.ProducerID)
}

// NotFoundError reports an operation on an id the registry does not hold.
type NotFoundError struct {
	ProducerID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("producer %q not found", e.ProducerID)
}

// IsInvalidParameter reports whether err is an InvalidParameterError.
func IsInvalidParameter(err error) bool {
	var target *InvalidParameterError
	return errors.As(err, &target)
}

// IsAlreadyRunning reports whether err is an AlreadyRunningError.
func IsAlreadyRunning(err error) bool {
	var target *AlreadyRunningError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

package tasks

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task, list member or binding is absent.
	ErrNotFound = errors.New("not found")
	// ErrListNotFound is returned when the user has no bound list or the list is gone.
	ErrListNotFound = errors.New("list not found")
)

// ValidationError rejects user input; the conversation re-prompts the same step.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RepositoryError reports a storage failure. The operation had no effect.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// DeliveryError reports a failed notification to one recipient.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err means a missing task or list.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrListNotFound)
}

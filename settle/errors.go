package settle

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a conditional write finds the record in another state.
	ErrConflict = errors.New("record changed concurrently")
)

type InvalidStateError struct {
	Op       string
	Expected string
	Actual   string
}

func (e *InvalidStateError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("invalid state: %s requires %s", e.Op, e.Expected)
	}
	return fmt.Sprintf("invalid state: %s requires %s, got %s", e.Op, e.Expected, e.Actual)
}

func ErrInvalidState(op, expected, actual string) error {
	return &InvalidStateError{Op: op, Expected: expected, Actual: actual}
}

// ValidationError reports a malformed input such as a negative amount or an unknown player.
// Zero is a legal chip count and never produces one.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func ErrValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Package apperr holds the error taxonomy shared by the encoders, the
// scenario services and the replay executor.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// ValidationError reports input that can never be encoded or accepted as
// given. It is surfaced to the caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Validation is a shorthand constructor.
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotImplementedError marks a feature that is permanently unsupported,
// such as the merge and identifier-change triggers.
type NotImplementedError struct {
	Feature string
	Reason  string
}

func (e *NotImplementedError) Error() string {
	if e.Reason == "" {
		return "not implemented: " + e.Feature
	}
	return fmt.Sprintf("not implemented: %s (%s)", e.Feature, e.Reason)
}

// ImportError rejects a whole scenario import.
type ImportError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ImportError) Error() string {
	msg := "import"
	if e.Key != "" {
		msg += " " + e.Key
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ImportError) Unwrap() error { return e.Err }

// ScenarioExecutionError is returned at run level when the executor could
// not drive a run to completion (unreachable destination for every step,
// run/step-log persistence failure).
type ScenarioExecutionError struct {
	RunID string
	Op    string
	Err   error
}

func (e *ScenarioExecutionError) Error() string {
	return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Op, e.Err)
}

func (e *ScenarioExecutionError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotImplemented reports whether err is or wraps a NotImplementedError.
func IsNotImplemented(err error) bool {
	var n *NotImplementedError
	return errors.As(err, &n)
}

// IsImport reports whether err is or wraps an ImportError.
func IsImport(err error) bool {
	var i *ImportError
	return errors.As(err, &i)
}

// IsExecution reports whether err is or wraps a ScenarioExecutionError.
func IsExecution(err error) bool {
	var x *ScenarioExecutionError
	return errors.As(err, &x)
}

package types

import (
	"errors"
	"fmt"
)

// ValidationError indicates malformed or missing caller input. The caller
// can recover by correcting the input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError creates a validation error with the given message.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates a lookup miss: unknown user, mailbox, message
// or draft.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// NewNotFoundError creates a not-found error for a resource and key.
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// ConflictError indicates a state transition that is not allowed, such as
// sending an already-sent draft. Retrying unchanged will not help.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// NewConflictError creates a conflict error with the given message.
func NewConflictError(msg string) *ConflictError {
	return &ConflictError{Msg: msg}
}

// RemoteMailError wraps a protocol or transport failure talking to a
// remote mail server. It may be transient; callers may retry the whole
// operation on a fresh connection.
type RemoteMailError struct {
	Op  string
	Err error
}

func (e *RemoteMailError) Error() string {
	return fmt.Sprintf("remote mail %s: %v", e.Op, e.Err)
}

func (e *RemoteMailError) Unwrap() error { return e.Err }

// NewRemoteMailError wraps err as a remote mail failure for the given
// operation.
func NewRemoteMailError(op string, err error) *RemoteMailError {
	return &RemoteMailError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsRemote reports whether err is a RemoteMailError.
func IsRemote(err error) bool {
	var e *RemoteMailError
	return errors.As(err, &e)
}

// Package apperr defines the error taxonomy surfaced by the approval workflow engine.
// Every error carries a human-readable message because callers show it directly to users.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindPrecondition Kind = "precondition"
	KindStore        Kind = "store"
)

var (
	// ErrValidation matches malformed input (missing fields, invalid enum values)
	ErrValidation = errors.New("validation failed")

	// ErrNotFound matches unknown template, instance or step ids
	ErrNotFound = errors.New("not found")

	// ErrConflict matches decisions on completed instances and duplicate defaults
	ErrConflict = errors.New("conflict")

	// ErrPrecondition matches operations refused because of the target's current state
	ErrPrecondition = errors.New("precondition failed")

	// ErrStore matches persistence failures (constraint, network, timeout)
	ErrStore = errors.New("store failure")
)

var sentinels = map[Kind]error{
	KindValidation:   ErrValidation,
	KindNotFound:     ErrNotFound,
	KindConflict:     ErrConflict,
	KindPrecondition: ErrPrecondition,
	KindStore:        ErrStore,
}

// Error is a classified engine error
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newError(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Validation returns a validation error for op
func Validation(op, format string, args ...interface{}) error {
	return newError(KindValidation, op, nil, format, args...)
}

// NotFound returns a not-found error for op
func NotFound(op, format string, args ...interface{}) error {
	return newError(KindNotFound, op, nil, format, args...)
}

// Conflict returns a conflict error for op
func Conflict(op, format string, args ...interface{}) error {
	return newError(KindConflict, op, nil, format, args...)
}

// Precondition returns a precondition error for op
func Precondition(op, format string, args ...interface{}) error {
	return newError(KindPrecondition, op, nil, format, args...)
}

// Store wraps a persistence failure. Errors that are already classified pass through
// unchanged so a NotFound raised inside a transaction is not masked as a store error.
func Store(op string, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return newError(KindStore, op, err, format, args...)
}

// KindOf returns the kind of err, or KindStore for unclassified errors
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindStore
}

// Message returns the human-readable part of err without the operation prefix
func Message(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

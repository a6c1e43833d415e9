package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the error taxonomy shared across subsystems.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindExtraction ErrorKind = "extraction"
	KindDiscovery  ErrorKind = "discovery"
	KindIngestion  ErrorKind = "ingestion"
	KindStore      ErrorKind = "store"
)

// ErrNotFound is returned by persistent storage for a missing row.
var ErrNotFound = errors.New("not found")

// Error is a classified error. Field is set for validation errors.
type Error struct {
	Kind  ErrorKind
	Op    string
	Field string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Op != "":
		return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Kind, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Field, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewValidationError returns a validation error for field.
func NewValidationError(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Err: fmt.Errorf(format, args...)}
}

// NewError wraps err with kind and operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err (or anything it wraps) is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsValidation is shorthand for IsKind(err, KindValidation).
func IsValidation(err error) bool {
	return IsKind(err, KindValidation)
}

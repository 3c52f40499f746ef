package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine error for transport mapping.
type ErrorKind string

const (
	// KindValidation: missing or malformed input; no mutation attempted.
	KindValidation ErrorKind = "validation"
	// KindNotFound: a referenced entity is absent; no mutation attempted.
	KindNotFound ErrorKind = "not_found"
	// KindPrecondition: a state invariant is not yet satisfied; no
	// mutation attempted.
	KindPrecondition ErrorKind = "precondition_failed"
	// KindDependency: a collaborator failed mid-operation; partial
	// mutation may have occurred, callers should re-query before retrying.
	KindDependency ErrorKind = "dependency"
)

// Error is a kinded domain error surfaced to callers with a
// machine-readable kind and a human message.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewValidation reports a caller input error.
func NewValidation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound reports a missing referenced entity.
func NewNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewPrecondition reports an unsatisfied state invariant.
func NewPrecondition(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// NewDependency wraps a collaborator failure.
func NewDependency(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindDependency, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf returns the kind of err, or an empty kind when err is not a
// domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound reports whether err is a not-found domain error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

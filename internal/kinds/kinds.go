// Package kinds defines the error taxonomy shared across the engine.
package kinds

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP/WS status mapping and logging.
type Kind string

const (
	BadRequest         Kind = "bad_request"
	Unauthorized       Kind = "unauthorized"
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	ConfigInvalid      Kind = "config_invalid"
	StorageUnavailable Kind = "storage_unavailable"
	ProviderFailure    Kind = "provider_failure"
	Internal           Kind = "internal"
)

// Error is a kinded error carrying an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, kinds.BadRequest) style matching via a sentinel wrap.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

// Of returns the Kind of err if it is (or wraps) a *Error, else Internal.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

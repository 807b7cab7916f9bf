// Package core defines the domain types shared by the webhook endpoint, the
// event classifier, and the build writer.
package core

import (
	"errors"
	"net/http"
)

// ErrorKind classifies a trigger failure. Every kind maps to exactly one HTTP
// status, which is the only machine-checked contract webhook callers rely on.
type ErrorKind string

const (
	KindBadRequest ErrorKind = "bad_request"
	KindNotFound   ErrorKind = "not_found"
	KindInternal   ErrorKind = "internal"
)

// Error is the single error type that crosses component boundaries. Internal
// causes stay wrapped and are never exposed to webhook callers directly.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// BadRequest reports a malformed or unauthenticated delivery.
func BadRequest(message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message}
}

// NotFound reports an unregistered repository or project.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Internal reports an inconsistency that needs operator attention.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// HTTPStatus maps an error to the response status the endpoint must emit.
// Unknown error types are internal by definition.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindBadRequest:
			return http.StatusBadRequest
		case KindNotFound:
			return http.StatusNotFound
		}
	}
	return http.StatusInternalServerError
}

// Package apperrors collapses every component-level error in azsecret
// into the single stable taxonomy the dispatcher maps to HTTP status
// codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one of the ten stable error classes a caller can see.
type Code string

const (
	CodeBadRequest    Code = "BAD_REQUEST"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeCorruptData   Code = "CORRUPT_DATA"
	CodeCryptoFailure Code = "CRYPTO_FAILURE"
	CodeUpstream      Code = "UPSTREAM"
	CodeBackend       Code = "BACKEND"
	CodeTooBusy       Code = "TOO_BUSY"
	CodeInternal      Code = "INTERNAL"
)

// httpStatus implements the dispatcher's status code mapping: the four
// named categories keep their natural HTTP status, TooBusy maps to 503,
// and every other category maps to 500.
var httpStatus = map[Code]int{
	CodeBadRequest:    http.StatusBadRequest,
	CodeUnauthorized:  http.StatusUnauthorized,
	CodeForbidden:     http.StatusForbidden,
	CodeNotFound:      http.StatusNotFound,
	CodeTooBusy:       http.StatusServiceUnavailable,
	CodeCorruptData:   http.StatusInternalServerError,
	CodeCryptoFailure: http.StatusInternalServerError,
	CodeUpstream:      http.StatusInternalServerError,
	CodeBackend:       http.StatusInternalServerError,
	CodeInternal:      http.StatusInternalServerError,
}

// Error is the single error type every component returns at its
// boundary with the Store.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code the dispatcher writes for this error.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error around an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func BadRequest(message string) *Error { return New(CodeBadRequest, message) }

func Unauthorized(message string) *Error { return New(CodeUnauthorized, message) }

func Forbidden(message string) *Error { return New(CodeForbidden, message) }

func NotFound(id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("secret %q not found", id))
}

func CorruptData(message string, err error) *Error {
	return Wrap(CodeCorruptData, message, err)
}

func CryptoFailure(message string, err error) *Error {
	return Wrap(CodeCryptoFailure, message, err)
}

func Upstream(service string, err error) *Error {
	return Wrap(CodeUpstream, fmt.Sprintf("%s call failed", service), err)
}

func Backend(operation string, err error) *Error {
	return Wrap(CodeBackend, fmt.Sprintf("backend %s failed", operation), err)
}

func TooBusy() *Error {
	return New(CodeTooBusy, "too many in-flight requests")
}

func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}

// As extracts an *Error from an error chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code for err, defaulting to Internal for
// errors that never passed through this package.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// StatusOf returns the HTTP status the dispatcher should write for err.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

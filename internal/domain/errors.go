// SPDX-License-Identifier: MIT

package domain

import (
	"errors"
	"fmt"
)

// Code classifies an error for the HTTP boundary. Codes are part of the
// external contract; callers switch on them to decide whether to retry.
type Code string

const (
	CodeValidation          Code = "VALIDATION"
	CodeNotAuthorized       Code = "NOT_AUTHORIZED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeReaderUnavailable   Code = "READER_UNAVAILABLE"
	CodeRateLimited         Code = "RATE_LIMIT_EXCEEDED"
	CodeConflict            Code = "CONFLICT"
	CodeBelowMinPayout      Code = "BELOW_MIN_PAYOUT"
	CodeAccountNotActive    Code = "ACCOUNT_NOT_ACTIVE"
	CodeTransient           Code = "TRANSIENT_ERROR"
	CodeInternal            Code = "INTERNAL"
)

// Error is a classified domain error. Wrapped causes stay reachable through
// errors.Is / errors.As; only Code and Message leak to responses.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is treats two domain errors with the same code as equivalent.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return de.Code == e.Code
	}
	return false
}

// E constructs a classified error.
func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Ef constructs a classified error with a formatted message.
func Ef(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the classification of err, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the caller-safe message of err. Unclassified errors map
// to a generic message so internals never leak into a response body.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

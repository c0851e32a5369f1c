// Package apperr defines the error taxonomy surfaced to callers of the
// trading core. Every error the core returns across a public boundary is
// either one of these codes or wraps one via fmt.Errorf("...: %w", ...).
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable, caller-facing error enum name.
type Code string

const (
	// Validation
	InvalidPrice        Code = "InvalidPrice"
	InvalidQuantity     Code = "InvalidQuantity"
	InvalidChain        Code = "InvalidChain"
	MalformedSignature  Code = "MalformedSignature"
	MissingField        Code = "MissingField"

	// Authorization
	Unauthorized     Code = "Unauthorized"
	UnsupportedChain Code = "UnsupportedChain"

	// Business
	UserNotFound       Code = "UserNotFound"
	MarketNotFound     Code = "MarketNotFound"
	OrderNotFound      Code = "OrderNotFound"
	MarketClosed       Code = "MarketClosed"
	AlreadySettled     Code = "AlreadySettled"
	InsufficientFunds  Code = "InsufficientFunds"
	InsufficientTokens Code = "InsufficientTokens"
	LimitExceeded      Code = "LimitExceeded"

	// Integrity (internal, should never surface)
	LedgerInconsistency Code = "LedgerInconsistency"

	// Transient
	Unavailable      Code = "Unavailable"
	DeadlineExceeded Code = "DeadlineExceeded"

	// Persistence-layer primitives (spec §4.1 Ledger error surface)
	NotFound Code = "NotFound"
	Conflict Code = "Conflict"
)

// Error is a structured, caller-facing error. It wraps an underlying
// error (if any) so callers can still errors.Is/As through it.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given code and a formatted detail message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given code, wrapping err.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return &Error{Code: code}
	}
	return &Error{Code: code, Detail: err.Error(), Err: err}
}

// CodeOf extracts the Code from err, if it (or something it wraps) is an
// *Error. Returns "" otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

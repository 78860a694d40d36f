// Package domainerrors defines coded errors that services return and the
// transport layer translates into responses.
//
// Services create errors with a Code and a caller-safe message. Infrastructure
// failures are wrapped so the cause stays available to logs via errors.Unwrap
// while never reaching a response body.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. The set is closed; httputil maps each code
// to a status and decides whether the message is safe to show.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInternal           Code = "internal_error"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"

	// Provisioning taxonomy.
	CodeIdentityConflict   Code = "identity_conflict"
	CodeIdentityProvider   Code = "identity_provider_error"
	CodeProvisioningFailed Code = "provisioning_failed"
	CodeCompensationFailed Code = "compensation_failed"

	// Login resolution taxonomy.
	CodeMissingCredential Code = "missing_credential"
	CodeInvalidCredential Code = "invalid_credential"
	CodeCredentialExpired Code = "credential_expired"
	CodeUnknownUser       Code = "unknown_user"
)

// Error is a coded domain error.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without an underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and a caller-safe message to err.
// A nil err still produces a coded error so callers can't lose the failure.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// From returns the outermost domain error in err's chain.
func From(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost domain error, or CodeInternal when
// err carries none.
func CodeOf(err error) Code {
	if de, ok := From(err); ok {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost domain error in err's chain has code.
func HasCode(err error, code Code) bool {
	de, ok := From(err)
	return ok && de.Code == code
}

// Package apperr defines the closed set of failure kinds the API reports.
package apperr

import (
	"database/sql"
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindConflict         Kind = "conflict"
	KindRemoteFailure    Kind = "remote_failure"
	KindDecodeFailure    Kind = "decode_failure"
)

// Error carries a Kind plus a stable machine code and a human message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(message string) *Error {
	return New(KindValidation, "VALIDATION_ERROR", message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, "NOT_FOUND", message)
}

func Denied(message string) *Error {
	return New(KindPermissionDenied, "FORBIDDEN", message)
}

func Conflict(code, message string) *Error {
	if code == "" {
		code = "CONFLICT"
	}
	return New(KindConflict, code, message)
}

func Remote(message string, err error) *Error {
	return &Error{Kind: KindRemoteFailure, Code: "REMOTE_FAILURE", Message: message, Err: err}
}

func Decode(message string, err error) *Error {
	return &Error{Kind: KindDecodeFailure, Code: "DECODE_FAILURE", Message: message, Err: err}
}

// WithDetails returns a copy of e carrying the given details.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// KindOf classifies any error. Errors that were never tagged are treated as
// remote failures because every untagged path ends at a network call.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, sql.ErrNoRows) {
		return KindNotFound
	}
	return KindRemoteFailure
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

package config

import (
	"errors"
	"fmt"
)

// ErrorKind classifies configuration failures. None of them are retryable:
// every kind means the input has to be corrected before the run can start.
type ErrorKind string

const (
	// KindMissingRequired indicates a required field is still unset after merge.
	KindMissingRequired ErrorKind = "missing_required"

	// KindValidation indicates an override document that does not match the
	// schema: unknown fields, wrong types, or violated constraints.
	KindValidation ErrorKind = "validation"

	// KindStructural indicates a document lacks a required top-level section.
	KindStructural ErrorKind = "structural"

	// KindNotFound indicates the configuration path does not exist.
	KindNotFound ErrorKind = "not_found"
)

// Error is a classified configuration error.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Path is the dotted field path that caused the error (e.g., "train.batch_size").
	Path string `json:"path,omitempty"`

	// File is the source document, if known.
	File string `json:"file,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Sentinels for errors.Is. A sentinel matches any Error of the same kind.
var (
	ErrMissingRequired = &Error{Kind: KindMissingRequired}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrStructural      = &Error{Kind: KindStructural}
	ErrNotFound        = &Error{Kind: KindNotFound}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Kind, e.Path, e.Message)
	}
	if e.File != "" {
		msg += fmt.Sprintf(" (file=%s)", e.File)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with a
// path only matches errors for that path.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Path == "" || t.Path == e.Path
}

// WithFile adds source file context to an error.
func (e *Error) WithFile(file string) *Error {
	e.File = file
	return e
}

// NewMissingRequiredError creates an error for a required field left unset.
func NewMissingRequiredError(path string) *Error {
	return &Error{
		Kind:    KindMissingRequired,
		Path:    path,
		Message: "required field is not set",
	}
}

// NewValidationError creates an error for a malformed or mistyped field.
func NewValidationError(path, message string, err error) *Error {
	return &Error{
		Kind:    KindValidation,
		Path:    path,
		Message: message,
		Err:     err,
	}
}

// NewStructuralError creates an error for a missing top-level section.
func NewStructuralError(section, message string) *Error {
	return &Error{
		Kind:    KindStructural,
		Path:    section,
		Message: message,
	}
}

// NewNotFoundError creates an error for a configuration path that does not exist.
func NewNotFoundError(file string, err error) *Error {
	return &Error{
		Kind:    KindNotFound,
		File:    file,
		Message: "config file is not found",
		Err:     err,
	}
}

// IsMissingRequired returns true if the error chain contains a missing-required error.
func IsMissingRequired(err error) bool {
	return errors.Is(err, ErrMissingRequired)
}

// IsValidation returns true if the error chain contains a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsStructural returns true if the error chain contains a structural error.
func IsStructural(err error) bool {
	return errors.Is(err, ErrStructural)
}

// IsNotFound returns true if the error chain contains a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// KindOf returns the kind of the first classified error in the chain, or ""
// if the chain holds none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryHost    Category = "host"
	CategoryCapture Category = "capture"
	CategoryCLI     Category = "cli"
)

// NetsyncError is a structured error with a code, an explanation and a hint.
type NetsyncError struct {
	// Code is a unique error identifier (e.g., "E120").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *NetsyncError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *NetsyncError) Unwrap() error {
	return e.Wrapped
}

// WithSuggestion adds a fix suggestion to the error.
func (e *NetsyncError) WithSuggestion(s string) *NetsyncError {
	e.Suggestion = s
	return e
}

// WithDetail replaces the detailed explanation of the error.
func (e *NetsyncError) WithDetail(d string) *NetsyncError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *NetsyncError) Wrap(err error) *NetsyncError {
	e.Wrapped = err
	return e
}

// New creates a NetsyncError from a registered error code.
func New(code string) *NetsyncError {
	template, ok := registry[code]
	if !ok {
		return &NetsyncError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &NetsyncError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a new NetsyncError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *NetsyncError {
	return &NetsyncError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a NetsyncError. Errors that already
// are, or wrap, a NetsyncError are returned unchanged.
func FromError(err error, code string) *NetsyncError {
	if err == nil {
		return nil
	}
	var ne *NetsyncError
	if stderrors.As(err, &ne) {
		return ne
	}
	return New(code).Wrap(err)
}

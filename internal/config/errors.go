package config

import "fmt"

// Error is a fatal configuration problem. Field is the dotted document path
// of the offending value, empty when the whole document is unusable.
type Error struct {
	Path    string
	Field   string
	Problem string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Problem
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Path != "" {
		msg = "config " + e.Path + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func fieldError(field, format string, args ...any) *Error {
	return &Error{Field: field, Problem: fmt.Sprintf(format, args...)}
}

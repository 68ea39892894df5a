package renderer

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies renderer failures so callers can branch on the condition
// instead of on error text.
type Kind string

const (
	KindTimeout    Kind = "TIMEOUT"
	KindNavigation Kind = "NAVIGATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindClosed     Kind = "CLOSED"
	KindProtocol   Kind = "PROTOCOL"
)

// Error is a typed renderer failure.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error.
func NewError(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsTimeout reports whether err is a renderer timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// Classify wraps a backend error produced while running op under opCtx,
// a context derived from parent with an operation deadline. A deadline on
// opCtx becomes KindTimeout; cancellation of parent is returned unchanged
// so shutdown is never mistaken for a slow page.
func Classify(parent, opCtx context.Context, op string, err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return NewError(KindTimeout, op, err)
	}
	return NewError(fallback, op, err)
}

package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Error is the application error type. Handlers return it (or any error,
// which Classify converts); only the dispatcher turns it into an Info.
type Error struct {
	Code    Code
	Message string
	Details any
	// Context holds diagnostics that go to the error log but not to the UI.
	Context map[string]any
	Cause   error
	Time    time.Time
}

// Info is the error triple the UI observes inside a failure envelope.
type Info struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Info projects the error onto the wire triple.
func (e *Error) Info() Info {
	return Info{Code: e.Code, Message: e.Message, Details: e.Details}
}

// Retryable reports whether the error's code is retryable.
func (e *Error) Retryable() bool {
	return e.Code.Retryable()
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Time: time.Now()}
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithDetails creates an error carrying a details payload for the UI.
func WithDetails(code Code, message string, details any) *Error {
	e := New(code, message)
	e.Details = details
	return e
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// Validation is shorthand for a VALIDATION_ERROR with details.
func Validation(message string, details any) *Error {
	return WithDetails(CodeValidation, message, details)
}

// Classify converts any failure into the taxonomy. Errors already in the
// taxonomy pass through unchanged; network failures map to the network
// codes; everything else becomes UNKNOWN_ERROR carrying the original message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return wrapNative(CodeNetworkTimeout, err)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return wrapNative(CodeNetworkTimeout, err)
		}
		return wrapNative(CodeNetworkError, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return wrapNative(CodeNetworkError, err)
	}

	return wrapNative(CodeUnknown, err)
}

func wrapNative(code Code, err error) *Error {
	e := Wrap(code, err.Error(), err)
	e.Details = map[string]any{
		"type":  fmt.Sprintf("%T", err),
		"cause": err.Error(),
	}
	return e
}

package presence

import (
	"errors"
	"fmt"
)

// Code classifies a presence error.
type Code string

const (
	CodeConfiguration        Code = "configuration"
	CodeInitializationFailed Code = "initialization_failed"
	CodeNotReady             Code = "not_ready"
	CodeInvalidState         Code = "invalid_state"
	CodeWriteFailed          Code = "write_failed"
	CodeBindingFailed        Code = "binding_failed"
)

// Error carries a machine-readable code and an optional cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrWriteFailed)
// holds for every write failure regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrConfiguration        = &Error{Code: CodeConfiguration}
	ErrInitializationFailed = &Error{Code: CodeInitializationFailed}
	ErrNotReady             = &Error{Code: CodeNotReady}
	ErrInvalidState         = &Error{Code: CodeInvalidState}
	ErrWriteFailed          = &Error{Code: CodeWriteFailed}
	ErrBindingFailed        = &Error{Code: CodeBindingFailed}
)

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

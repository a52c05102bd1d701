package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so adapters can map them to responses.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindForbidden      ErrorKind = "forbidden"
	KindResolution     ErrorKind = "resolution"
	KindExecution      ErrorKind = "execution"
	KindInfrastructure ErrorKind = "infrastructure"
	KindNotFound       ErrorKind = "not_found"
	KindBusy           ErrorKind = "busy"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrResolution     = &Error{Kind: KindResolution}
	ErrExecution      = &Error{Kind: KindExecution}
	ErrInfrastructure = &Error{Kind: KindInfrastructure}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrBusy           = &Error{Kind: KindBusy}
)

// Error is the typed failure returned by core operations.
// Detail carries the underlying tool or runtime message, if any.
type Error struct {
	Kind     ErrorKind
	Message  string
	Detail   string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so the sentinels above
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Detail == ""
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Resolution wraps a failure to find the target container.
func Resolution(msg string, err error) *Error {
	return &Error{Kind: KindResolution, Message: msg, Err: err}
}

// Infrastructure wraps a runtime failure (exec API, vanished container).
func Infrastructure(msg string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Message: msg, Err: err}
}

// Execution reports a tool that ran but exited non-zero.
func Execution(msg string, exitCode int, stderr string) *Error {
	return &Error{Kind: KindExecution, Message: msg, ExitCode: exitCode, Detail: stderr}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

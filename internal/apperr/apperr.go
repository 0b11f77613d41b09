// Package apperr defines the error taxonomy shared by refgate components.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	// CodeConfiguration: missing setting, unknown check, bad settings. Fatal
	// before any update is evaluated.
	CodeConfiguration Code = "CONFIGURATION"
	// CodeRepository: the git subprocess failed.
	CodeRepository Code = "REPOSITORY"
	// CodeMalformedRule: a single ACL rule is unusable and gets skipped.
	CodeMalformedRule Code = "MALFORMED_RULE"
	// CodeExternalService: host API or SMTP relay unreachable.
	CodeExternalService Code = "EXTERNAL_SERVICE"
	// CodeInput: a hook input line could not be parsed.
	CodeInput Code = "INPUT"
)

// Error carries a code, a user-facing message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// New creates an error with a message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is a formatted variant of New.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and message to err.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Wrapf is a formatted variant of Wrap.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Configuration is shorthand for a configuration error.
func Configuration(format string, args ...any) *Error {
	return Newf(CodeConfiguration, format, args...)
}

// MissingParam reports a required parameter that is not set.
func MissingParam(check, key string) *Error {
	return Newf(CodeConfiguration, "%s: '%s' not in hook settings, check refgate configuration", check, key)
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// ExitCoder is implemented by errors that choose the process exit status.
type ExitCoder interface {
	error
	ExitCode() int
}

// ExitCodeOf maps err to a process exit status. git only distinguishes zero
// from non-zero, so everything that is not nil exits 1 unless it says otherwise.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ec ExitCoder
	if errors.As(err, &ec) {
		if code := ec.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}

// Package qerr carries the stable error categories a run can end with.
package qerr

import (
	"errors"
	"fmt"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown       Code = "unknown"
	CodeInvalidSpec   Code = "invalid_spec"
	CodeTaskFailed    Code = "task_failed"
	CodeTimeout       Code = "timeout"
	CodePlatformError Code = "platform_error"
	CodeCancelled     Code = "cancelled"

	// CLI-side codes used when talking to a remote server.
	CodeUnauthorized Code = "unauthorized"
)

// Error is a simple value type that carries a Code plus the underlying error.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// Errorf is New with a formatted cause.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// IsCode helps callers compare codes without type assertions. It looks
// through wrapping, so fmt.Errorf("...: %w", qerrErr) still matches.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// TaskFailed is the cause carried by a CodeTaskFailed error.
type TaskFailed struct {
	Index    int
	Command  string
	ExitCode int
}

func (t *TaskFailed) Error() string {
	return fmt.Sprintf("task %d (%q) exited with code %d", t.Index, t.Command, t.ExitCode)
}

// NewTaskFailed builds the CodeTaskFailed error for the task at index.
func NewTaskFailed(index int, command string, exitCode int) error {
	return &Error{Code: CodeTaskFailed, err: &TaskFailed{Index: index, Command: command, ExitCode: exitCode}}
}

// AsTaskFailed extracts the failing task details, if err carries them.
func AsTaskFailed(err error) (*TaskFailed, bool) {
	var tf *TaskFailed
	if errors.As(err, &tf) {
		return tf, true
	}
	return nil, false
}

// Package swarmerr provides the structured error taxonomy shared by every
// layer of the sprint orchestrator. Errors carry a Code drawn from the six
// kinds the runner's propagation policy distinguishes, plus an optional
// Underlying cause and Retryable hint.
package swarmerr

import "fmt"

// Code partitions errors into the six kinds the runner treats differently.
type Code string

const (
	// CodeConfig covers invalid flags, unresolved branches, missing
	// required arguments. Surfaced verbatim; exit 2; no retry.
	CodeConfig Code = "CONFIG"

	// CodeExternalCommand covers non-zero exit from a VCS subcommand.
	CodeExternalCommand Code = "EXTERNAL_COMMAND"

	// CodeEngine covers non-zero exit, timeout, or shutdown-triggered
	// kill of an engine subprocess.
	CodeEngine Code = "ENGINE"

	// CodeMergeProtocol covers ancestry or parent-count verification
	// failure after the automatic retry is exhausted.
	CodeMergeProtocol Code = "MERGE_PROTOCOL"

	// CodeWorktreeState covers a worktree registered outside the
	// sanctioned root, or other unrepairable worktree-state conflicts.
	CodeWorktreeState Code = "WORKTREE_STATE"

	// CodeShutdown is returned unchanged whenever the shutdown flag
	// short-circuits an in-progress operation.
	CodeShutdown Code = "SHUTDOWN"
)

// Error is the structured error type produced by every package in this
// module. Use New for a fresh error and Wrap to attach a Code to an
// existing one without discarding it.
type Error struct {
	Code       Code
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// ExitCode maps the error's Code to the process exit codes spec.md §6
// defines. Engine timeouts are reported as EngineResult values rather than
// errors, so CodeEngine maps to a generic nonzero here.
func (e *Error) ExitCode() int {
	switch e.Code {
	case CodeConfig:
		return 2
	case CodeShutdown:
		return 130
	default:
		return 1
	}
}

// New creates a fresh structured error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a fresh structured error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Code and message to an existing error.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Underlying: err}
}

// WithRetryable marks the error retryable and returns it for chaining.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// ShutdownRequested is the sentinel error every long-running loop returns,
// unchanged, the moment it observes the shutdown flag set. Callers compare
// with errors.Is.
var ShutdownRequested = New(CodeShutdown, "shutdown requested")

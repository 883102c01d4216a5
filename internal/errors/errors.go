// Package errors provides structured CLI error types for ocdiag.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for CLI errors.
const (
	ExitSuccess    = 0   // Successful execution
	ExitGeneral    = 1   // General error, unreachable server, spawn exhaustion
	ExitUsage      = 64  // Command line usage error (BSD convention)
	ExitSignalBase = 128 // Added to the signal number on signal-triggered exit
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// ExitCode returns the exit code carried by err, or ExitGeneral.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var cliErr *CLIError
	if As(err, &cliErr) {
		return cliErr.Code
	}

	return ExitGeneral
}

// --- Common error constructors ---

// ServerUnreachable returns an error for an explicitly requested server that did not answer.
func ServerUnreachable(url string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Cannot reach server at %s", url),
		Hint:    "Check that the server is running on that port, or omit --port to start one",
		Cause:   cause,
		Code:    ExitGeneral,
	}
}

// SpawnFailed returns an error when no candidate port produced a ready server.
func SpawnFailed(attempts int, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to start server after %d attempt(s)", attempts),
		Hint:    "Check that the server binary is installed, or pass --port to use a running instance",
		Cause:   cause,
		Code:    ExitGeneral,
	}
}

// InvalidSection returns an error for an unknown --only entry.
func InvalidSection(key string, known []string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Unknown section: %s", key),
		Hint:    fmt.Sprintf("Known sections: %s", strings.Join(known, ", ")),
		Code:    ExitUsage,
	}
}

// InvalidFormat returns an error for an unsupported --format value.
func InvalidFormat(format string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid format: %s", format),
		Hint:    "Use --format text or --format json",
		Code:    ExitUsage,
	}
}

// InvalidLimit returns an error for a non-positive --limit value.
func InvalidLimit(limit int) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid limit: %d", limit),
		Hint:    "--limit must be a positive number; use --full to disable truncation",
		Code:    ExitUsage,
	}
}

// InvalidPort returns an error for a port outside the TCP range.
func InvalidPort(port int) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid port: %d", port),
		Hint:    "--port must be between 1 and 65535",
		Code:    ExitUsage,
	}
}

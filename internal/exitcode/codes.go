// Package exitcode defines structured exit codes for agentbridge commands.
// Scripts and the hook runner can branch on the code without parsing
// messages.
//
// # Exit Code Ranges
//
//   - 0: Success
//   - 1-9: General errors (usage, configuration)
//   - 10-19: Resource not found (channel, file)
//   - 20-29: Permission/access errors
//   - 30-39: Network/connectivity errors
//   - 40-49: Timeout errors
//   - 50-59: Conflict/state errors
//
// # Usage
//
//	return exitcode.ChannelNotFound("C0123")       // Exit code 10
//	return exitcode.Wrap(exitcode.ErrConfig, "loading config", err)
//
// Extract codes from errors (works with wrapped errors):
//
//	code := exitcode.Code(err)  // ErrGeneral for non-coded errors
package exitcode

import (
	"errors"
	"fmt"
)

// Exit codes for agentbridge commands.
const (
	// Success indicates the command completed successfully.
	Success = 0

	// General errors (1-9)
	ErrGeneral = 1 // General/unknown error
	ErrUsage   = 2 // Invalid arguments or usage
	ErrConfig  = 3 // Configuration missing or invalid

	// Resource not found (10-19)
	ErrChannelNotFound = 10 // Channel not registered with the bridge
	ErrFileNotFound    = 13 // File or path not found

	// Permission/access errors (20-29)
	ErrUnauthorized = 20 // Bridge API key missing or wrong

	// Network/connectivity (30-39)
	ErrBridgeUnreachable = 30 // Bridge API not reachable

	// Timeout errors (40-49)
	ErrTimeout = 40 // Operation timed out

	// Conflict/state errors (50-59)
	ErrAgentDown     = 50 // Agent process not running
	ErrAlreadyExists = 51 // Resource already exists
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't have a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// ChannelNotFound returns an error for an unregistered channel.
func ChannelNotFound(id string) *Error {
	return Newf(ErrChannelNotFound, "channel not found: %s", id)
}

// FileNotFound returns an error for a missing file.
func FileNotFound(path string) *Error {
	return Newf(ErrFileNotFound, "file not found: %s", path)
}

// Unauthorized returns an error for a rejected API key.
func Unauthorized(cause error) *Error {
	return Wrap(ErrUnauthorized, "bridge rejected the API key (set CLAUDE_SLACK_BRIDGE_API_KEY)", cause)
}

// BridgeUnreachable returns an error for a bridge that cannot be reached.
func BridgeUnreachable(url string, cause error) *Error {
	return Wrap(ErrBridgeUnreachable, "cannot reach bridge at "+url, cause)
}

// Timeout returns a timeout error.
func Timeout(operation string) *Error {
	return Newf(ErrTimeout, "operation timed out: %s", operation)
}

// AgentDown returns an error when the agent is not running.
func AgentDown() *Error {
	return New(ErrAgentDown, "Claude Code is not running")
}

// AlreadyExists returns an error when a resource already exists.
func AlreadyExists(resource string) *Error {
	return Newf(ErrAlreadyExists, "%s already exists", resource)
}

// Package errors provides standardized error codes for the docshare host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (content, approval, server, storage, config)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by control clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes by domain.
// These are stable identifiers that control clients can rely on.
const (
	// Content domain - resolving and rendering served files
	CodeContentNotFound    = "content.not_found"    // Requested path does not exist under the root
	CodeContentReadFailed  = "content.read_failed"  // File exists but could not be read
	CodeContentRenderFail  = "content.render_failed"
	CodeContentEscapesRoot = "content.escapes_root" // Path resolves outside the served root

	// Approval domain - the human-in-the-loop access gate
	CodeApprovalTimeout     = "approval.timeout"     // No decision arrived before the deadline
	CodeApprovalDenied      = "approval.denied"      // Operator explicitly denied access
	CodeApprovalDuplicate   = "approval.duplicate"   // Ticket ID already pending
	CodeApprovalNotFound    = "approval.not_found"   // Decision for an unknown or expired ticket
	CodeApprovalUnavailable = "approval.unavailable" // Prompt channel cannot deliver prompts

	// Server domain - HTTP listener and lifecycle
	CodeServerBindFailed     = "server.bind_failed"     // Listener could not bind its address
	CodeServerAlreadyRunning = "server.already_running" // Start called while serving
	CodeServerRootInvalid    = "server.root_invalid"    // Served root missing or unreadable
	CodeServerInvalidMessage = "server.invalid_message" // Malformed control message

	// Storage domain - audit persistence
	CodeStorageOpenFailed  = "storage.open_failed"
	CodeStorageQueryFailed = "storage.query_failed"
	CodeStorageSaveFailed  = "storage.save_failed"

	// Config domain - configuration loading
	CodeConfigReadFailed = "config.read_failed"
	CodeConfigInvalid    = "config.invalid"

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"
	CodeInternal = "error.internal"
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "approval.denied")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ApprovalTimeout creates an error for an approval request that expired
// before the operator responded.
func ApprovalTimeout(requestID string) *CodedError {
	return New(CodeApprovalTimeout, fmt.Sprintf("approval request %s timed out", requestID))
}

// ApprovalDenied creates an error for an explicitly denied request.
func ApprovalDenied(requestID string) *CodedError {
	return New(CodeApprovalDenied, fmt.Sprintf("approval request %s denied by operator", requestID))
}

// ApprovalDuplicate creates an error for a ticket ID that is already pending.
func ApprovalDuplicate(requestID string) *CodedError {
	return New(CodeApprovalDuplicate, fmt.Sprintf("approval request %s already pending", requestID))
}

// ApprovalNotFound creates an error for a decision targeting an unknown ticket.
func ApprovalNotFound(requestID string) *CodedError {
	return New(CodeApprovalNotFound, fmt.Sprintf("approval request %s not found", requestID))
}

// NotifierUnavailable creates an error indicating the prompt channel
// cannot currently deliver prompts to an operator.
func NotifierUnavailable() *CodedError {
	return New(CodeApprovalUnavailable, "no operator channel available for approval prompts")
}

// HasCode reports whether err carries the given error code anywhere in its chain.
func HasCode(err error, code string) bool {
	for err != nil {
		var coded *CodedError
		if errors.As(err, &coded) {
			if coded.Code == code {
				return true
			}
			err = coded.Cause
			continue
		}
		return false
	}
	return false
}

// ToCodeAndMessage extracts a stable code and message from any error.
// CodedErrors yield their own code; other errors map to error.unknown.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}
	return CodeUnknown, err.Error()
}

// Domain returns the domain portion of an error code ("approval.denied" -> "approval").
func Domain(code string) string {
	if i := strings.IndexByte(code, '.'); i > 0 {
		return code[:i]
	}
	return code
}

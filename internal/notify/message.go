// Package notify delivers approval prompts to a human operator and routes
// decisions back to the access gate. The primary channel is a WebSocket hub
// that control clients (the editor UI, a phone, a desktop helper) connect to;
// a synchronous terminal prompt serves as fallback when no client is
// connected and the host runs in a terminal.
package notify

import (
	"time"

	"github.com/docshare/host/internal/gate"
)

// MessageType identifies the kind of message sent over the control socket.
// Each type has a specific payload structure defined below.
type MessageType string

const (
	// MessageTypeApprovalRequest asks the operator to allow or deny a
	// client address. Payload: ApprovalRequestPayload
	MessageTypeApprovalRequest MessageType = "approval.request"

	// MessageTypeApprovalDecision is sent by control clients to answer an
	// approval.request. Payload: ApprovalDecisionPayload
	MessageTypeApprovalDecision MessageType = "approval.decision"

	// MessageTypeApprovalResult confirms that a decision was applied.
	// Payload: ApprovalResultPayload
	MessageTypeApprovalResult MessageType = "approval.result"

	// MessageTypeContentChanged notifies clients that a served file changed,
	// so previews can reload. Payload: ContentChangedPayload
	MessageTypeContentChanged MessageType = "content.changed"

	// MessageTypeServerStatus is sent on connect with the server's state.
	// Payload: ServerStatusPayload
	MessageTypeServerStatus MessageType = "server.status"

	// MessageTypeError carries error information to clients.
	// Payload: ErrorPayload
	MessageTypeError MessageType = "error"
)

// Message is the JSON envelope for all control socket traffic.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// ApprovalRequestPayload mirrors gate.Prompt on the wire.
type ApprovalRequestPayload struct {
	RequestID string `json:"request_id"`
	Address   string `json:"address"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	SentAt    string `json:"sent_at"`
}

// ApprovalDecisionPayload is the operator's answer.
// Decision must be "allow" or "deny".
type ApprovalDecisionPayload struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
}

// ApprovalResultPayload confirms whether a decision was applied.
type ApprovalResultPayload struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_message,omitempty"`
}

// ContentChangedPayload names the served path that changed.
type ContentChangedPayload struct {
	Path string `json:"path"`
}

// ServerStatusPayload describes the running server to a fresh client.
type ServerStatusPayload struct {
	URL     string `json:"url"`
	Root    string `json:"root"`
	Pending int    `json:"pending"`
}

// ErrorPayload carries a coded error to clients.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewApprovalRequestMessage builds the wire message for a prompt.
func NewApprovalRequestMessage(p gate.Prompt) Message {
	return Message{
		Type: MessageTypeApprovalRequest,
		Payload: ApprovalRequestPayload{
			RequestID: p.RequestID,
			Address:   p.Address,
			Title:     p.Title,
			Body:      p.Body,
			SentAt:    time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// NewApprovalResultMessage builds a decision confirmation.
func NewApprovalResultMessage(requestID string, success bool, code, msg string) Message {
	return Message{
		Type: MessageTypeApprovalResult,
		Payload: ApprovalResultPayload{
			RequestID: requestID,
			Success:   success,
			ErrorCode: code,
			ErrorMsg:  msg,
		},
	}
}

// NewContentChangedMessage builds a live-reload notification.
func NewContentChangedMessage(path string) Message {
	return Message{
		Type:    MessageTypeContentChanged,
		Payload: ContentChangedPayload{Path: path},
	}
}

// NewServerStatusMessage builds the greeting sent to connecting clients.
func NewServerStatusMessage(url, root string, pending int) Message {
	return Message{
		Type: MessageTypeServerStatus,
		Payload: ServerStatusPayload{
			URL:     url,
			Root:    root,
			Pending: pending,
		},
	}
}

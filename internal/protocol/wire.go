// ABOUTME: Wire types shared by every transport: request, response, payload and error body
// ABOUTME: Field names follow the protocol's camelCase JSON contract

package protocol

import (
	"time"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
)

// Status is the outcome of a request.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Request is one inbound message.
type Request struct {
	Token          string         `json:"token"`
	ConversationID string         `json:"conversationId,omitempty"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context,omitempty"`

	// NewConversation starts a fresh conversation instead of continuing
	// the session's active one. Ignored when ConversationID is set.
	NewConversation bool `json:"newConversation,omitempty"`

	// RequestID correlates responses on a multiplexed stream. Optional.
	RequestID string `json:"requestId,omitempty"`
}

// Response answers a Request.
type Response struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Payload   Payload   `json:"payload"`
	RequestID string    `json:"requestId,omitempty"`
}

// Payload carries either the stored exchange or an error.
type Payload struct {
	ConversationID string                `json:"conversationId,omitempty"`
	Request        *conversation.Message `json:"request,omitempty"`
	Message        *conversation.Message `json:"message,omitempty"`
	Error          *ErrorBody            `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code              Code    `json:"code"`
	Message           string  `json:"message"`
	RetryAfterSeconds float64 `json:"retryAfterSeconds,omitempty"`
}

// Err returns the typed error carried by r, or nil for a successful
// response.
func (r Response) Err() error {
	if r.Status != StatusError {
		return nil
	}
	if r.Payload.Error == nil {
		return ErrorForCode(CodeInternal, "error response without body")
	}
	return ErrorForCode(r.Payload.Error.Code, r.Payload.Error.Message)
}

// ABOUTME: Frames exchanged on the session stream: auth, welcome, send, response, error, close
// ABOUTME: A frame carries exactly one payload matching its Type

package rpc

import (
	"time"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
)

// FrameType discriminates the payload of a Frame.
type FrameType string

const (
	FrameAuth     FrameType = "auth"
	FrameWelcome  FrameType = "welcome"
	FrameSend     FrameType = "send"
	FrameResponse FrameType = "response"
	FrameError    FrameType = "error"
	FrameClose    FrameType = "close"
)

// Frame is one message on the session stream.
type Frame struct {
	Type FrameType `json:"type"`

	Auth     *Auth               `json:"auth,omitempty"`
	Welcome  *Welcome            `json:"welcome,omitempty"`
	Send     *protocol.Request   `json:"send,omitempty"`
	Response *protocol.Response  `json:"response,omitempty"`
	Error    *protocol.ErrorBody `json:"error,omitempty"`
}

// Auth authenticates the session with a token or identity and secret.
type Auth struct {
	Identity string `json:"identity,omitempty"`
	Secret   string `json:"secret,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Welcome acknowledges a successful authentication.
type Welcome struct {
	SessionID       string    `json:"sessionId"`
	Identity        string    `json:"identity"`
	Token           string    `json:"token"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Server          string    `json:"server"`
	ProtocolVersion string    `json:"protocolVersion"`
}

// AuthFrame builds an auth frame.
func AuthFrame(a Auth) *Frame {
	return &Frame{Type: FrameAuth, Auth: &a}
}

// SendFrame builds a send frame.
func SendFrame(req protocol.Request) *Frame {
	return &Frame{Type: FrameSend, Send: &req}
}

// ResponseFrame builds a response frame.
func ResponseFrame(resp protocol.Response) *Frame {
	return &Frame{Type: FrameResponse, Response: &resp}
}

// ErrorFrame builds an error frame for err.
func ErrorFrame(err error) *Frame {
	return &Frame{Type: FrameError, Error: &protocol.ErrorBody{
		Code:    protocol.CodeOf(err),
		Message: err.Error(),
	}}
}

// CloseFrame builds a close frame.
func CloseFrame() *Frame {
	return &Frame{Type: FrameClose}
}

// Err returns the typed error carried by an error frame, or nil.
func (f *Frame) Err() error {
	if f.Type != FrameError || f.Error == nil {
		return nil
	}
	return protocol.ErrorForCode(f.Error.Code, f.Error.Message)
}

// ABOUTME: Error codes that cross the wire and their mapping to and from typed Go errors
// ABOUTME: ErrorForCode rebuilds errors on the client so errors.Is works end to end

package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/handler"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/ratelimit"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrShuttingDown  = errors.New("server is shutting down")
	ErrBadRequest    = errors.New("bad request")
	ErrDrainTimeout  = errors.New("drain timeout exceeded")
	ErrInternal      = errors.New("internal error")

	// ErrCanceled marks a request abandoned by its caller or by Stop. It
	// matches context.Canceled.
	ErrCanceled = fmt.Errorf("request canceled: %w", context.Canceled)
)

// Code classifies an error on the wire.
type Code string

const (
	CodeInvalidCredential Code = "invalid_credential"
	CodeInvalidToken      Code = "invalid_token"
	CodeTokenExpired      Code = "token_expired"
	CodeTokenRevoked      Code = "token_revoked"
	CodeForbidden         Code = "forbidden"
	CodeTooManyAttempts   Code = "too_many_attempts"
	CodeUnauthenticated   Code = "unauthenticated"
	CodeRateLimited       Code = "rate_limited"
	CodeNotFound          Code = "not_found"
	CodeConversationFull  Code = "conversation_full"
	CodeHandlerError      Code = "handler_error"
	CodeCanceled          Code = "canceled"
	CodeSessionClosed     Code = "session_closed"
	CodeShuttingDown      Code = "shutting_down"
	CodeBadRequest        Code = "bad_request"
	CodeInternal          Code = "internal"
)

// IsAuth reports whether c is an authentication failure.
func (c Code) IsAuth() bool {
	switch c {
	case CodeInvalidCredential, CodeInvalidToken, CodeTokenExpired, CodeTokenRevoked,
		CodeForbidden, CodeTooManyAttempts, CodeUnauthenticated:
		return true
	}
	return false
}

// CodeOf classifies err. The most specific match wins.
func CodeOf(err error) Code {
	var herr *handler.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, auth.ErrTooManyAttempts):
		return CodeTooManyAttempts
	case errors.Is(err, auth.ErrExpiredToken):
		return CodeTokenExpired
	case errors.Is(err, auth.ErrRevokedToken):
		return CodeTokenRevoked
	case errors.Is(err, auth.ErrIdentityMismatch):
		return CodeForbidden
	case errors.Is(err, auth.ErrInvalidCredential):
		return CodeInvalidCredential
	case errors.Is(err, auth.ErrInvalidToken):
		return CodeInvalidToken
	case errors.Is(err, auth.ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ratelimit.ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, conversation.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, conversation.ErrConversationFull):
		return CodeConversationFull
	case errors.Is(err, ErrSessionClosed):
		return CodeSessionClosed
	case errors.Is(err, ErrShuttingDown):
		return CodeShuttingDown
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrCanceled):
		return CodeCanceled
	case errors.As(err, &herr):
		return CodeHandlerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}

// remoteError is an error reported by the other side of the wire.
type remoteError struct {
	code  Code
	msg   string
	cause error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.cause }

// Code returns the wire code.
func (e *remoteError) Code() Code { return e.code }

// ErrorForCode rebuilds a typed error from a wire code and message.
func ErrorForCode(code Code, msg string) error {
	if msg == "" {
		msg = string(code)
	}

	var cause error
	switch code {
	case CodeInvalidCredential:
		cause = auth.ErrInvalidCredential
	case CodeInvalidToken:
		cause = auth.ErrInvalidToken
	case CodeTokenExpired:
		cause = auth.ErrExpiredToken
	case CodeTokenRevoked:
		cause = auth.ErrRevokedToken
	case CodeForbidden:
		cause = auth.ErrIdentityMismatch
	case CodeTooManyAttempts:
		cause = auth.ErrTooManyAttempts
	case CodeUnauthenticated:
		cause = auth.ErrUnauthenticated
	case CodeRateLimited:
		cause = ratelimit.ErrRateLimited
	case CodeNotFound:
		cause = conversation.ErrNotFound
	case CodeConversationFull:
		cause = conversation.ErrConversationFull
	case CodeHandlerError:
		cause = &handler.Error{Handler: "remote", Err: errors.New(msg)}
	case CodeCanceled:
		cause = ErrCanceled
	case CodeSessionClosed:
		cause = ErrSessionClosed
	case CodeShuttingDown:
		cause = ErrShuttingDown
	case CodeBadRequest:
		cause = ErrBadRequest
	default:
		code = CodeInternal
		cause = ErrInternal
	}
	return &remoteError{code: code, msg: msg, cause: cause}
}

// badRequest wraps ErrBadRequest with detail.
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

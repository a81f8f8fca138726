// ABOUTME: Message Handler capability invoked by the protocol server for every admitted message
// ABOUTME: Defines the Handler interface, the HandlerError type and the panic-safe Wrap adapter

package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/config"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
)

// Request is what a handler sees for one inbound message.
type Request struct {
	ConversationID string
	Identity       string
	History        []conversation.Message // prior messages, oldest first
	Message        conversation.Message   // the new inbound message, Context included
}

// Handler produces the assistant reply to an inbound message.
type Handler interface {
	Handle(ctx context.Context, req Request) (conversation.Message, error)
}

// Func adapts a function to Handler.
type Func func(ctx context.Context, req Request) (conversation.Message, error)

// Handle implements Handler.
func (f Func) Handle(ctx context.Context, req Request) (conversation.Message, error) {
	return f(ctx, req)
}

// Error reports a handler failure. It is the only error type Wrap returns.
type Error struct {
	Handler string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Handler, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrEmptyResponse is returned when a handler produces no content.
var ErrEmptyResponse = errors.New("handler returned an empty response")

// Wrap guarantees h fails only with *Error, recovering panics, and stamps
// the reply with the assistant role. Panics are logged to logger, or to
// slog.Default when it is nil.
func Wrap(name string, h Handler, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return Func(func(ctx context.Context, req Request) (reply conversation.Message, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panicked", "handler", name, "panic", r, "stack", string(debug.Stack()))
				reply = conversation.Message{}
				err = &Error{Handler: name, Err: fmt.Errorf("panic: %v", r)}
			}
		}()

		reply, err = h.Handle(ctx, req)
		if err != nil {
			var herr *Error
			if errors.As(err, &herr) {
				return conversation.Message{}, err
			}
			return conversation.Message{}, &Error{Handler: name, Err: err}
		}
		if reply.Content == "" {
			return conversation.Message{}, &Error{Handler: name, Err: ErrEmptyResponse}
		}

		reply.Role = conversation.RoleAssistant
		reply.ID = ""
		return reply, nil
	})
}

// New builds the handler selected by cfg.Kind, already wrapped.
func New(cfg config.HandlerConfig, logger *slog.Logger) (Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "handler", "kind", cfg.Kind)

	switch cfg.Kind {
	case "", "echo":
		return Wrap("echo", Echo(), logger), nil
	case "assistant":
		return Wrap("assistant", NewAssistant(cfg.Name, cfg.Capabilities), logger), nil
	case "webhook":
		wh, err := NewWebhook(cfg.WebhookURL, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return Wrap("webhook", wh, logger), nil
	default:
		return nil, fmt.Errorf("unknown handler kind %q", cfg.Kind)
	}
}

// Echo returns a handler that replies with the inbound content.
func Echo() Handler {
	return Func(func(ctx context.Context, req Request) (conversation.Message, error) {
		if err := ctx.Err(); err != nil {
			return conversation.Message{}, err
		}
		return conversation.Message{Content: req.Message.Content}, nil
	})
}

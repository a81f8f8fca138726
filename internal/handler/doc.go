// Package handler provides the message handlers the protocol server calls
// to produce replies.
//
// A Handler receives the conversation history and the new inbound message
// and returns the assistant reply. Failures are reported as *Error, which
// the server turns into a handler_error response without touching the
// conversation.
//
// Three variants are selected by configuration:
//
//   - echo: replies with the inbound content
//   - assistant: a named assistant with capabilities and conversation memory
//   - webhook: delegates to an external HTTP endpoint
//
// Use New to build the configured variant, or Wrap to make any Handler
// panic-safe.
package handler

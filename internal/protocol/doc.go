// Package protocol implements the conversation protocol independent of any
// transport.
//
// A Server owns sessions. Each Session moves through Unauthenticated,
// Authenticated, Active and Closed:
//
//	sess, _ := srv.Open(peer)
//	tok, err := sess.Authenticate(ctx, protocol.Credentials{Identity: "alice", Secret: secret})
//	resp, err := sess.Send(ctx, protocol.Request{Message: "hello"})
//
// Every message runs the same pipeline: validate the token, consult the
// rate limiter, resolve or create the conversation, call the handler, then
// append the inbound message and the reply in one step. A failure at any
// stage leaves the conversation untouched.
//
// Errors cross the wire as a Code. CodeOf classifies a Go error and
// ErrorForCode rebuilds one on the far side, so errors.Is against the auth,
// ratelimit and conversation sentinels works for remote callers too.
//
// Stop drains in-flight requests for the configured timeout and then
// cancels the rest.
package protocol

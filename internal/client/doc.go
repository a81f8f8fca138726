// Package client is the Go client for the conversation protocol.
//
// A Client opens one gRPC session stream, authenticates it with an identity
// and secret (or an existing token) and multiplexes SendMessage calls over
// it, matching responses to callers by request id.
//
//	c, err := client.Dial("localhost:8001", client.Config{
//	    Identity: "alice",
//	    Secret:   os.Getenv("MCP_SECRET"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Release()
//
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//	resp, err := c.SendMessage(ctx, "hello", nil)
//
// When the server reports an expired token the client authenticates again on
// the same stream and resends the message once. Errors carry the protocol's
// typed values, so errors.Is(err, ratelimit.ErrRateLimited) and
// errors.Is(err, auth.ErrInvalidCredential) work across the wire.
//
// History holds only exchanges that succeeded.
package client

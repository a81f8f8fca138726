// Package gateway runs the conversation protocol server behind its network
// transports.
//
// # Overview
//
// The Gateway owns every long-lived component of the server process: the
// credential store, token service, rate limiter, conversation store, message
// handler and the protocol.Server that ties them together. It exposes that
// server over two transports that share the same pipeline and error codes.
//
//	type Gateway struct {
//	    config      *config.Config
//	    store       store.Store
//	    credentials *credential.Service
//	    tokens      *auth.TokenService
//	    limiter     ratelimit.Limiter
//	    convs       *conversation.Store
//	    events      *conversation.EventBroadcaster
//	    protocol    *protocol.Server
//	    grpcServer  *grpc.Server
//	    httpServer  *http.Server
//	    // ...
//	}
//
// # gRPC Session Stream
//
// The Conversation service has a single bidirectional stream. Each stream is
// one protocol session:
//
//  1. The client sends an auth frame with identity and secret, or a token.
//     Bearer metadata on the call authenticates the stream up front.
//  2. The server answers with a welcome frame carrying a fresh token, or an
//     error frame. Too many failures end the stream.
//  3. Send frames are processed concurrently; each gets a response frame
//     echoing its requestId. Replayed request ids are rejected.
//  4. A close frame from either side ends the session.
//
// Frames use the JSON codec registered by package rpc.
//
// # HTTP API
//
//	GET    /health                               liveness
//	GET    /health/ready                         503 once shutdown begins
//	GET    /api/v1/info                          server name and protocol version
//	POST   /api/v1/auth/token                    exchange credentials for a token
//	POST   /api/v1/auth/revoke                   revoke the bearer token
//	POST   /api/v1/messages                      one request/response exchange
//	POST   /api/v1/conversations                 start an empty conversation
//	GET    /api/v1/conversations                 the caller's conversations
//	GET    /api/v1/conversations/{id}            messages, optional ?limit=N
//	DELETE /api/v1/conversations/{id}            evict
//	GET    /api/v1/conversations/{id}/transcript markdown or ?format=html
//	GET    /api/v1/conversations/{id}/events     SSE stream of appended messages
//
// Errors are JSON bodies with an "error" message and a protocol "code".
//
// # Listeners
//
// Servers listen on TCP by default. With tailscale enabled the gateway joins
// the tailnet through tsnet and serves gRPC on :50051 and HTTP on :80.
//
// # Shutdown
//
// Shutdown stops admitting work, waits up to the drain timeout for in-flight
// requests, cancels the rest and then stops the transports and the store.
package gateway

// ABOUTME: gRPC stream interceptor that pre-authenticates bearer metadata
// ABOUTME: Streams without metadata pass through and authenticate in-band

package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

// StreamInterceptor returns a gRPC stream interceptor. When the call carries
// "authorization: Bearer <token>" metadata the token must be valid, and the
// resulting AuthContext is attached to the stream context. Calls without
// metadata are passed through untouched.
func StreamInterceptor(tokens TokenValidator, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx := ss.Context()
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok || len(md.Get("authorization")) == 0 {
			return handler(srv, ss)
		}

		header := md.Get("authorization")[0]
		if !strings.HasPrefix(header, "Bearer ") {
			logAuthFailure(logger, ctx, "malformed_authorization", "method", info.FullMethod)
			return status.Error(codes.Unauthenticated, "invalid authorization header format")
		}

		tok, err := tokens.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			reason := tokenErrorCode(err)
			logAuthFailure(logger, ctx, reason, "method", info.FullMethod)
			return status.Error(codes.Unauthenticated, reason)
		}

		authCtx := &AuthContext{Identity: tok.Identity, Token: tok}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			authCtx.PeerAddr = p.Addr.String()
		}
		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithAuth(ctx, authCtx),
		}
		return handler(srv, wrapped)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

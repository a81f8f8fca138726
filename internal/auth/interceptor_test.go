// ABOUTME: Unit tests for the gRPC stream interceptor
// ABOUTME: Uses a stub server stream to check pass-through, acceptance and rejection

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type stubServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *stubServerStream) Context() context.Context { return s.ctx }

func runInterceptor(t *testing.T, svc *TokenService, md metadata.MD) (*AuthContext, bool, error) {
	t.Helper()
	ctx := context.Background()
	if md != nil {
		ctx = metadata.NewIncomingContext(ctx, md)
	}

	var got *AuthContext
	called := false
	handler := func(srv any, ss grpc.ServerStream) error {
		called = true
		got = FromContext(ss.Context())
		return nil
	}

	err := StreamInterceptor(svc, nil)(nil, &stubServerStream{ctx: ctx},
		&grpc.StreamServerInfo{FullMethod: "/mcp.v1.Conversation/Session"}, handler)
	return got, called, err
}

func TestStreamInterceptor_NoMetadataPassesThrough(t *testing.T) {
	svc := newTestService(t, newFakeClock())

	got, called, err := runInterceptor(t, svc, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Nil(t, got)
}

func TestStreamInterceptor_ValidBearer(t *testing.T) {
	svc := newTestService(t, newFakeClock())
	tok, err := svc.Issue("alice", time.Hour)
	require.NoError(t, err)

	got, called, err := runInterceptor(t, svc, metadata.Pairs("authorization", "Bearer "+tok.Value))
	require.NoError(t, err)
	assert.True(t, called)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Identity)
	assert.Equal(t, tok.ID, got.Token.ID)
}

func TestStreamInterceptor_Rejections(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, clock)
	short, err := svc.Issue("alice", time.Second)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	tests := []struct {
		name   string
		header string
		msg    string
	}{
		{"wrong scheme", "Basic abc", "invalid authorization header format"},
		{"invalid token", "Bearer nope", "invalid_token"},
		{"expired token", "Bearer " + short.Value, "token_expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, called, err := runInterceptor(t, svc, metadata.Pairs("authorization", tt.header))
			assert.False(t, called)
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, codes.Unauthenticated, st.Code())
			assert.Equal(t, tt.msg, st.Message())
		})
	}
}

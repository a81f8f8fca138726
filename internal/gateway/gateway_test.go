// ABOUTME: Tests for gateway lifecycle, health endpoints and the session stream
// ABOUTME: Streams run over bufconn against a fully wired gateway with in-memory storage

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/config"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/ratelimit"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/rpc"
)

const (
	aliceSecret = "alice-secret-1"
	bobSecret   = "bob-secret-1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freePort returns a localhost port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:     "127.0.0.1",
			GRPCAddr: "127.0.0.1:" + strconv.Itoa(freePort(t)),
			HTTPAddr: "127.0.0.1:" + strconv.Itoa(freePort(t)),
		},
		Auth: config.AuthConfig{
			JWTSecret:        "test-secret-at-least-sixteen-bytes",
			PBKDF2Iterations: 1000,
		},
		Shutdown: config.ShutdownConfig{
			DrainTimeout:    2 * time.Second,
			DrainTimeoutRaw: "2s",
		},
		Metrics: config.MetricsConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// newTestGateway builds a gateway with alice and bob registered. mutate
// may adjust the configuration first.
func newTestGateway(t *testing.T, mutate func(*config.Config)) *Gateway {
	t.Helper()
	t.Setenv("MCP_DB_PATH", "")

	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})

	ctx := context.Background()
	require.NoError(t, gw.Credentials().Register(ctx, "alice", aliceSecret))
	require.NoError(t, gw.Credentials().Register(ctx, "bob", bobSecret))
	return gw
}

// dialBufconn serves the gateway's gRPC server on an in-memory listener.
func dialBufconn(t *testing.T, gw *Gateway) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gw.ServeGRPC(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func openStream(t *testing.T, ctx context.Context, conn *grpc.ClientConn) rpc.SessionClient {
	t.Helper()
	stream, err := rpc.OpenSession(ctx, conn)
	require.NoError(t, err)
	return stream
}

func recvFrame(t *testing.T, stream rpc.SessionClient) *rpc.Frame {
	t.Helper()
	f, err := stream.Recv()
	require.NoError(t, err)
	return f
}

// recvStreamError reads until the stream fails and returns the typed error.
func recvStreamError(t *testing.T, stream rpc.SessionClient) error {
	t.Helper()
	for {
		_, err := stream.Recv()
		if err != nil {
			return rpc.FromStreamError(err, stream.Trailer())
		}
	}
}

func streamContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew(t *testing.T) {
	gw := newTestGateway(t, nil)

	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.credentials)
	assert.NotNil(t, gw.protocol)
	assert.NotNil(t, gw.grpcServer)
	assert.NotNil(t, gw.httpServer)
	assert.Nil(t, gw.denylist, "revocation is off by default")
	assert.Contains(t, gw.serverID, "mcp-gateway-")
}

func TestNew_RevocationEnablesDenylist(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config) { cfg.Auth.Revocation = true })
	assert.NotNil(t, gw.denylist)
}

func TestNew_DenylistHoldsEveryRevocation(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config) { cfg.Auth.Revocation = true })

	first, err := gw.tokens.Issue("alice", 0)
	require.NoError(t, err)
	require.NoError(t, gw.tokens.Revoke(first.Value))

	for i := 0; i < 500; i++ {
		tok, err := gw.tokens.Issue("bob", 0)
		require.NoError(t, err)
		require.NoError(t, gw.tokens.Revoke(tok.Value))
	}

	_, err = gw.tokens.Validate(first.Value)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)
	assert.Equal(t, 501, gw.denylist.Len())
}

func TestNew_RejectsShortSecret(t *testing.T) {
	t.Setenv("MCP_DB_PATH", "")
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
}

func TestRunAndShutdown(t *testing.T) {
	t.Setenv("MCP_DB_PATH", "")
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	base := "http://" + cfg.Server.HTTPAddr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/health/ready")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ready (0 sessions, 0 conversations)")

	// gRPC listener accepts a session stream
	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	stream := openStream(t, streamContext(t), conn)
	require.NoError(t, stream.Send(rpc.AuthFrame(rpc.Auth{Identity: "nobody", Secret: "wrong-secret"})))
	f := recvFrame(t, stream)
	require.Equal(t, rpc.FrameError, f.Type)
	assert.Equal(t, protocol.CodeInvalidCredential, f.Error.Code)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, gw.Protocol().Info().ShuttingDown)
}

func TestHandleReady_ShuttingDown(t *testing.T) {
	gw := newTestGateway(t, nil)
	require.NoError(t, gw.Protocol().Stop(context.Background()))

	rec := doRequest(t, gw, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "shutting down", rec.Body.String())
}

func TestSession_AuthenticateAndSend(t *testing.T) {
	gw := newTestGateway(t, nil)
	stream := openStream(t, streamContext(t), dialBufconn(t, gw))

	require.NoError(t, stream.Send(rpc.AuthFrame(rpc.Auth{Identity: "alice", Secret: aliceSecret})))
	f := recvFrame(t, stream)
	require.Equal(t, rpc.FrameWelcome, f.Type)
	assert.Equal(t, "alice", f.Welcome.Identity)
	assert.Equal(t, protocol.ProtocolVersion, f.Welcome.ProtocolVersion)
	assert.Equal(t, gw.serverID, f.Welcome.Server)
	assert.NotEmpty(t, f.Welcome.Token)
	assert.NotEmpty(t, f.Welcome.SessionID)

	require.NoError(t, stream.Send(rpc.SendFrame(protocol.Request{Message: "hello", RequestID: "r1"})))
	f = recvFrame(t, stream)
	require.Equal(t, rpc.FrameResponse, f.Type)
	resp := f.Response
	require.Equal(t, protocol.StatusOK, resp.Status, "error: %+v", resp.Payload.Error)
	assert.Equal(t, "r1", resp.RequestID)
	require.NotNil(t, resp.Payload.Message)
	assert.Equal(t, "hello", resp.Payload.Message.Content)

	conv, err := gw.convs.Get(resp.Payload.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, "alice", conv.Owner)

	// The next message continues the same conversation
	require.NoError(t, stream.Send(rpc.SendFrame(protocol.Request{Message: "again", RequestID: "r2"})))
	f = recvFrame(t, stream)
	require.Equal(t, protocol.StatusOK, f.Response.Status)
	assert.Equal(t, resp.Payload.ConversationID, f.Response.Payload.ConversationID)

	require.NoError(t, stream.Send(rpc.CloseFrame()))
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_FirstFrameMustBeAuth(t *testing.T) {
	gw := newTestGateway(t, nil)
	stream := openStream(t, streamContext(t), dialBufconn(t, gw))

	require.NoError(t, stream.Send(rpc.SendFrame(protocol.Request{Message: "hello"})))
	f := recvFrame(t, stream)
	require.Equal(t, rpc.FrameError, f.Type)
	assert.Equal(t, protocol.CodeBadRequest, f.Error.Code)

	err := recvStreamError(t, stream)
	assert.ErrorIs(t, err, protocol.ErrBadRequest)
}

func TestSession_TooManyAuthAttempts(t *testing.T) {
	gw := newTestGateway(t, nil)
	stream := openStream(t, streamContext(t), dialBufconn(t, gw))

	for i := 0; i < 2; i++ {
		require.NoError(t, stream.Send(rpc.AuthFrame(rpc.Auth{Identity: "alice", Secret: "wrong-secret"})))
		f := recvFrame(t, stream)
		require.Equal(t, rpc.FrameError, f.Type)
		assert.Equal(t, protocol.CodeInvalidCredential, f.Error.Code)
	}

	require.NoError(t, stream.Send(rpc.AuthFrame(rpc.Auth{Identity: "alice", Secret: "wrong-secret"})))
	f := recvFrame(t, stream)
	require.Equal(t, rpc.FrameError, f.Type)
	assert.Equal(t, protocol.CodeTooManyAttempts, f.Error.Code)

	err := recvStreamError(t, stream)
	assert.ErrorIs(t, err, auth.ErrTooManyAttempts)
	assert.Equal(t, 0, gw.Protocol().Info().Sessions)
}

func TestSession_BearerMetadata(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := dialBufconn(t, gw)

	tok, err := gw.Protocol().IssueToken(context.Background(), "bob", bobSecret)
	require.NoError(t, err)

	ctx := metadata.AppendToOutgoingContext(streamContext(t), "authorization", "Bearer "+tok.Value)
	stream := openStream(t, ctx, conn)

	f := recvFrame(t, stream)
	require.Equal(t, rpc.FrameWelcome, f.Type)
	assert.Equal(t, "bob", f.Welcome.Identity)

	require.NoError(t, stream.Send(rpc.SendFrame(protocol.Request{Message: "hi"})))
	f = recvFrame(t, stream)
	require.Equal(t, rpc.FrameResponse, f.Type)
	assert.Equal(t, protocol.StatusOK, f.Response.Status)
}

func TestSession_InvalidBearerMetadata(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := dialBufconn(t, gw)

	ctx := metadata.AppendToOutgoingContext(streamContext(t), "authorization", "Bearer not-a-token")
	stream := openStream(t, ctx, conn)

	err := recvStreamError(t, stream)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestSession_DuplicateRequestID(t *testing.T) {
	gw := newTestGateway(t, nil)
	stream := openStream(t, streamContext(t), dialBufconn(t, gw))

	require.NoError(t, stream.Send(rpc.AuthFrame(rpc.Auth{Identity: "alice", Secret: aliceSecret})))
	require.Equal(t, rpc.FrameWelcome, recvFrame(t, stream).Type)

	require.NoError(t, stream.Send(rpc.SendFrame(protocol.Request{Message: "one", RequestID: "dup"})))
	first := recvFrame(t, stream)
	require.Equal(t, protocol.StatusOK, first.Response.Status)

	require.NoError(t, stream.Send(rpc.SendFrame(protocol.Request{Message: "two", RequestID: "dup"})))
	second := recvFrame(t, stream)
	require.Equal(t, rpc.FrameResponse, second.Type)
	assert.Equal(t, protocol.StatusError, second.Response.Status)
	assert.Equal(t, protocol.CodeBadRequest, second.Response.Payload.Error.Code)
	assert.Equal(t, "dup", second.Response.RequestID)
	assert.NotEmpty(t, second.Response.ID)
	assert.False(t, second.Response.Timestamp.IsZero())

	conv, err := gw.convs.Get(first.Response.Payload.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2, "replayed request must not be appended")
}

func TestSession_RateLimitedResponse(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config) { cfg.RateLimit.MaxRequests = 1 })
	stream := openStream(t, streamContext(t), dialBufconn(t, gw))

	require.NoError(t, stream.Send(rpc.AuthFrame(rpc.Auth{Identity: "alice", Secret: aliceSecret})))
	require.Equal(t, rpc.FrameWelcome, recvFrame(t, stream).Type)

	require.NoError(t, stream.Send(rpc.SendFrame(protocol.Request{Message: "one"})))
	first := recvFrame(t, stream)
	require.Equal(t, protocol.StatusOK, first.Response.Status)

	require.NoError(t, stream.Send(rpc.SendFrame(protocol.Request{Message: "two"})))
	second := recvFrame(t, stream)
	require.Equal(t, protocol.StatusError, second.Response.Status)
	assert.Equal(t, protocol.CodeRateLimited, second.Response.Payload.Error.Code)
	assert.Greater(t, second.Response.Payload.Error.RetryAfterSeconds, 0.0)
	assert.ErrorIs(t, second.Response.Err(), ratelimit.ErrRateLimited)

	conv, err := gw.convs.Get(first.Response.Payload.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestSession_ServerStopSendsClose(t *testing.T) {
	gw := newTestGateway(t, nil)
	stream := openStream(t, streamContext(t), dialBufconn(t, gw))

	require.NoError(t, stream.Send(rpc.AuthFrame(rpc.Auth{Identity: "alice", Secret: aliceSecret})))
	require.Equal(t, rpc.FrameWelcome, recvFrame(t, stream).Type)

	require.NoError(t, gw.Protocol().Stop(context.Background()))

	f := recvFrame(t, stream)
	assert.Equal(t, rpc.FrameClose, f.Type)
	_, err := stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_OpenRejectedWhileShuttingDown(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := dialBufconn(t, gw)
	require.NoError(t, gw.Protocol().Stop(context.Background()))

	stream := openStream(t, streamContext(t), conn)
	err := recvStreamError(t, stream)
	assert.ErrorIs(t, err, protocol.ErrShuttingDown)
}

// ABOUTME: Tests for the protocol client against a real gateway over bufconn
// ABOUTME: A scripted stream server pins the single re-authentication retry

package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/config"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/gateway"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/ratelimit"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/rpc"
)

const aliceSecret = "alice-secret-1"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// bufDialer returns dial options for an in-memory listener.
func bufDialer(lis *bufconn.Listener) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

// startGateway runs a gateway with alice registered and returns it with a
// listener serving its session stream.
func startGateway(t *testing.T, mutate func(*config.Config)) (*gateway.Gateway, *bufconn.Listener) {
	t.Helper()
	t.Setenv("MCP_DB_PATH", "")

	cfg := &config.Config{
		Server: config.ServerConfig{GRPCAddr: "127.0.0.1:0", HTTPAddr: "127.0.0.1:0"},
		Auth: config.AuthConfig{
			JWTSecret:        "client-test-secret-0123456789",
			PBKDF2Iterations: 1000,
		},
	}
	cfg.ApplyDefaults()
	if mutate != nil {
		mutate(cfg)
	}

	gw, err := gateway.New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, gw.Credentials().Register(context.Background(), "alice", aliceSecret))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = gw.ServeGRPC(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return gw, lis
}

func dialAlice(t *testing.T, lis *bufconn.Listener) *Client {
	t.Helper()
	c, err := Dial("passthrough:///bufnet", Config{
		Identity: "alice",
		Secret:   aliceSecret,
		Logger:   testLogger(),
	}, bufDialer(lis)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Release() })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_HelloRoundTrip(t *testing.T) {
	gw, lis := startGateway(t, nil)
	c := dialAlice(t, lis)
	ctx := testContext(t)

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx), "connect is idempotent")
	assert.True(t, c.Connected())
	assert.Equal(t, "alice", c.Identity())
	assert.NotEmpty(t, c.SessionID())
	assert.Contains(t, c.Server(), "mcp-gateway-")
	assert.WithinDuration(t, time.Now().Add(time.Hour), c.ExpiresAt(), time.Minute)
	assert.Equal(t, 1, gw.Protocol().Info().Sessions)

	resp, err := c.SendMessage(ctx, "hello", map[string]any{"lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	require.NotNil(t, resp.Payload.Message)
	assert.Equal(t, "hello", resp.Payload.Message.Content)
	assert.Equal(t, resp.Payload.ConversationID, c.ConversationID())

	conv, err := gw.Protocol().Conversations().Get(c.ConversationID())
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Request.Content)
	assert.Equal(t, "en", history[0].Request.Context["lang"])
	assert.Equal(t, "hello", history[0].Response.Content)
}

func TestClient_RateLimitedIsNotRecorded(t *testing.T) {
	gw, lis := startGateway(t, func(cfg *config.Config) { cfg.RateLimit.MaxRequests = 2 })
	c := dialAlice(t, lis)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))

	for i := 0; i < 2; i++ {
		_, err := c.SendMessage(ctx, fmt.Sprintf("msg %d", i), nil)
		require.NoError(t, err)
	}

	resp, err := c.SendMessage(ctx, "one too many", nil)
	require.ErrorIs(t, err, ratelimit.ErrRateLimited)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Greater(t, resp.Payload.Error.RetryAfterSeconds, 0.0)

	assert.Len(t, c.History(), 2)
	conv, err := gw.Protocol().Conversations().Get(c.ConversationID())
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4)
}

func TestClient_SendBeforeConnect(t *testing.T) {
	_, lis := startGateway(t, nil)
	c := dialAlice(t, lis)

	_, err := c.SendMessage(testContext(t), "hello", nil)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.Connected())
}

func TestClient_CloseThenReconnect(t *testing.T) {
	gw, lis := startGateway(t, nil)
	c := dialAlice(t, lis)
	ctx := testContext(t)

	require.NoError(t, c.Connect(ctx))
	_, err := c.SendMessage(ctx, "before", nil)
	require.NoError(t, err)
	convID := c.ConversationID()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.True(t, c.ExpiresAt().IsZero())

	_, err = c.SendMessage(ctx, "while closed", nil)
	require.ErrorIs(t, err, ErrNotConnected)

	require.Eventually(t, func() bool { return gw.Protocol().Info().Sessions == 0 },
		5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Connect(ctx))
	resp, err := c.SendMessage(ctx, "after", nil)
	require.NoError(t, err)
	assert.Equal(t, convID, resp.Payload.ConversationID, "conversation survives a reconnect")
	assert.Len(t, c.History(), 2)
}

func TestClient_InvalidCredential(t *testing.T) {
	_, lis := startGateway(t, nil)
	c, err := Dial("passthrough:///bufnet", Config{Identity: "alice", Secret: "wrong-secret", Logger: testLogger()}, bufDialer(lis)...)
	require.NoError(t, err)
	defer c.Release()

	err = c.Connect(testContext(t))
	require.ErrorIs(t, err, auth.ErrInvalidCredential)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.False(t, c.Connected())
}

func TestClient_NoCredentials(t *testing.T) {
	_, lis := startGateway(t, nil)
	c, err := Dial("passthrough:///bufnet", Config{Identity: "alice"}, bufDialer(lis)...)
	require.NoError(t, err)
	defer c.Release()

	require.ErrorIs(t, c.Connect(testContext(t)), ErrNoCredentials)
}

func TestClient_TokenOnly(t *testing.T) {
	gw, lis := startGateway(t, nil)
	tok, err := gw.Protocol().IssueToken(context.Background(), "alice", aliceSecret)
	require.NoError(t, err)

	c, err := Dial("passthrough:///bufnet", Config{Token: tok.Value, Logger: testLogger()}, bufDialer(lis)...)
	require.NoError(t, err)
	defer c.Release()

	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, "alice", c.Identity())

	_, err = c.SendMessage(ctx, "hi", nil)
	require.NoError(t, err)
}

func TestClient_ExpiredTokenReauthenticates(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a token to expire")
	}
	gw, lis := startGateway(t, func(cfg *config.Config) { cfg.Auth.TokenTTL = time.Second })
	c := dialAlice(t, lis)
	ctx := testContext(t)

	require.NoError(t, c.Connect(ctx))
	_, err := c.SendMessage(ctx, "first", nil)
	require.NoError(t, err)
	firstExpiry := c.ExpiresAt()

	time.Sleep(2100 * time.Millisecond)

	resp, err := c.SendMessage(ctx, "second", nil)
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Payload.Message.Content)
	assert.True(t, c.ExpiresAt().After(firstExpiry), "token was renewed")

	conv, err := gw.Protocol().Conversations().Get(c.ConversationID())
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4, "retry continues the same conversation")
	assert.Len(t, c.History(), 2)
}

func TestClient_NewConversation(t *testing.T) {
	_, lis := startGateway(t, nil)
	c := dialAlice(t, lis)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))

	first, err := c.SendMessage(ctx, "one", nil)
	require.NoError(t, err)

	c.NewConversation()
	assert.Empty(t, c.ConversationID())

	second, err := c.SendMessage(ctx, "two", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Payload.ConversationID, second.Payload.ConversationID)

	third, err := c.SendMessage(ctx, "three", nil)
	require.NoError(t, err)
	assert.Equal(t, second.Payload.ConversationID, third.Payload.ConversationID)
}

func TestClient_ConcurrentSends(t *testing.T) {
	gw, lis := startGateway(t, nil)
	c := dialAlice(t, lis)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))

	// Pin the conversation so concurrent first sends share it.
	_, err := c.SendMessage(ctx, "start", nil)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.SendMessage(ctx, fmt.Sprintf("msg %d", i), nil)
			if err == nil && resp.Payload.Message.Content != fmt.Sprintf("msg %d", i) {
				err = fmt.Errorf("reply %q routed to request %d", resp.Payload.Message.Content, i)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Len(t, c.History(), n+1)
	conv, err := gw.Protocol().Conversations().Get(c.ConversationID())
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2*(n+1))
}

func TestClient_ServerShutdown(t *testing.T) {
	gw, lis := startGateway(t, nil)
	c := dialAlice(t, lis)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))

	require.NoError(t, gw.Protocol().Stop(ctx))
	require.Eventually(t, func() bool { return !c.Connected() }, 5*time.Second, 10*time.Millisecond)

	_, err := c.SendMessage(ctx, "too late", nil)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, protocol.ErrSessionClosed)
}

func TestClient_HistoryIsACopy(t *testing.T) {
	_, lis := startGateway(t, nil)
	c := dialAlice(t, lis)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))

	_, err := c.SendMessage(ctx, "original", map[string]any{"k": "v"})
	require.NoError(t, err)

	h := c.History()
	h[0].Request.Content = "changed"
	h[0].Request.Context["k"] = "changed"

	again := c.History()
	assert.Equal(t, "original", again[0].Request.Content)
	assert.Equal(t, "v", again[0].Request.Context["k"])
}

// expiringServer authenticates every auth frame and answers every send
// with token_expired.
type expiringServer struct {
	auths atomic.Int32
	sends atomic.Int32
}

func (s *expiringServer) Session(stream rpc.SessionServer) error {
	for {
		f, err := stream.Recv()
		if err != nil {
			return nil
		}
		switch f.Type {
		case rpc.FrameAuth:
			n := s.auths.Add(1)
			if err := stream.Send(&rpc.Frame{Type: rpc.FrameWelcome, Welcome: &rpc.Welcome{
				SessionID: "s1",
				Identity:  f.Auth.Identity,
				Token:     fmt.Sprintf("token-%d", n),
				ExpiresAt: time.Now().Add(time.Hour),
			}}); err != nil {
				return err
			}
		case rpc.FrameSend:
			s.sends.Add(1)
			if err := stream.Send(rpc.ResponseFrame(protocol.Response{
				Status:    protocol.StatusError,
				RequestID: f.Send.RequestID,
				Payload: protocol.Payload{Error: &protocol.ErrorBody{
					Code:    protocol.CodeTokenExpired,
					Message: "token expired",
				}},
			})); err != nil {
				return err
			}
		case rpc.FrameClose:
			return nil
		}
	}
}

func TestClient_RetriesExpiredExactlyOnce(t *testing.T) {
	srv := &expiringServer{}
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	rpc.RegisterConversationServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c := dialAlice(t, lis)
	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx))

	_, err := c.SendMessage(ctx, "hello", nil)
	require.ErrorIs(t, err, auth.ErrExpiredToken)

	assert.Equal(t, int32(2), srv.sends.Load(), "original send plus one retry")
	assert.Equal(t, int32(2), srv.auths.Load(), "connect plus one re-authentication")
	assert.Empty(t, c.History())
}

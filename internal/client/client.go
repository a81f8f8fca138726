// ABOUTME: Protocol client: authenticates a session stream and sends messages on it
// ABOUTME: Re-authenticates once on an expired token and keeps a read-only exchange history

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/rpc"
)

var (
	// ErrNotConnected is returned by sends on a client that has no session.
	ErrNotConnected = errors.New("not connected")

	// ErrNoCredentials means neither a secret nor a token was configured.
	ErrNoCredentials = errors.New("identity and secret, or a token, are required")
)

// Config holds what a client authenticates with.
type Config struct {
	Identity string
	Secret   string

	// Token authenticates when no secret is configured. Without a secret
	// an expired token cannot be renewed.
	Token string

	// ConversationID resumes an existing conversation.
	ConversationID string

	Logger *slog.Logger
}

// Exchange is one successful request and its reply.
type Exchange struct {
	ConversationID string
	Request        conversation.Message
	Response       conversation.Message
}

// Client is a protocol client. It is safe for concurrent use; concurrent
// sends share one session stream.
type Client struct {
	conn   grpc.ClientConnInterface
	owned  io.Closer
	cfg    Config
	logger *slog.Logger

	// connectMu serializes Connect, re-authentication and Close.
	connectMu sync.Mutex

	mu              sync.RWMutex
	stream          *stream
	token           string
	expiresAt       time.Time
	identity        string
	sessionID       string
	server          string
	conversationID  string
	newConversation bool
	history         []Exchange
}

// New creates a client that opens its sessions on conn.
func New(conn grpc.ClientConnInterface, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:           conn,
		cfg:            cfg,
		logger:         logger.With("component", "client"),
		token:          cfg.Token,
		conversationID: cfg.ConversationID,
	}
}

// Dial creates a gRPC connection to target and a client on it. Without
// dial options the connection is plaintext. Release closes the connection.
func Dial(target string, cfg Config, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gRPC client: %w", err)
	}
	c := New(conn, cfg)
	c.owned = conn
	return c, nil
}

// Connect opens a session and authenticates it. Connecting while already
// connected does nothing.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.RLock()
	current := c.stream
	c.mu.RUnlock()
	if current != nil {
		if current.alive() {
			return nil
		}
		current.close()
	}

	creds, err := c.credentials()
	if err != nil {
		return err
	}

	st, err := openStream(c.conn, c.logger)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	w, err := st.authenticate(ctx, creds)
	if err != nil {
		st.close()
		return err
	}

	c.mu.Lock()
	c.stream = st
	c.adopt(w)
	c.mu.Unlock()

	c.logger.Info("connected",
		"session_id", w.SessionID,
		"identity", w.Identity,
		"server", w.Server,
		"protocol_version", w.ProtocolVersion,
	)
	return nil
}

// credentials picks what to authenticate with: the secret when there is
// one, otherwise the current token.
func (c *Client) credentials() (rpc.Auth, error) {
	if c.cfg.Identity != "" && c.cfg.Secret != "" {
		return rpc.Auth{Identity: c.cfg.Identity, Secret: c.cfg.Secret}, nil
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		token = c.cfg.Token
	}
	if token == "" {
		return rpc.Auth{}, ErrNoCredentials
	}
	return rpc.Auth{Token: token}, nil
}

// adopt records a welcome. Callers hold c.mu.
func (c *Client) adopt(w *rpc.Welcome) {
	c.token = w.Token
	c.expiresAt = w.ExpiresAt
	c.identity = w.Identity
	c.sessionID = w.SessionID
	c.server = w.Server
}

// reauthenticate renews the token of st after stale expired. A concurrent
// caller may already have done so.
func (c *Client) reauthenticate(ctx context.Context, st *stream, stale string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.RLock()
	current, token := c.stream, c.token
	c.mu.RUnlock()
	if current != st {
		return ErrNotConnected
	}
	if token != stale {
		return nil
	}
	if c.cfg.Identity == "" || c.cfg.Secret == "" {
		return fmt.Errorf("%w: no secret to re-authenticate with", auth.ErrExpiredToken)
	}

	w, err := st.authenticate(ctx, rpc.Auth{Identity: c.cfg.Identity, Secret: c.cfg.Secret})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.adopt(w)
	c.mu.Unlock()
	c.logger.Info("re-authenticated", "session_id", w.SessionID)
	return nil
}

// request builds the wire request for content from the current state.
func (c *Client) request(content string, mctx map[string]any) (*stream, protocol.Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.stream == nil {
		return nil, protocol.Request{}, ErrNotConnected
	}
	if err := c.stream.failure(); err != nil {
		return nil, protocol.Request{}, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return c.stream, protocol.Request{
		Token:           c.token,
		ConversationID:  c.conversationID,
		NewConversation: c.newConversation,
		Message:         content,
		Context:         mctx,
	}, nil
}

// SendMessage sends content with optional structured context and waits for
// the reply. When the token has expired the client re-authenticates and
// sends the same message once more. Failed exchanges are not recorded in
// the history.
func (c *Client) SendMessage(ctx context.Context, content string, mctx map[string]any) (protocol.Response, error) {
	st, req, err := c.request(content, mctx)
	if err != nil {
		return protocol.Response{}, err
	}

	resp, err := st.request(ctx, req)
	if errors.Is(err, auth.ErrExpiredToken) {
		c.logger.Info("token expired, re-authenticating")
		if rerr := c.reauthenticate(ctx, st, req.Token); rerr != nil {
			return resp, rerr
		}

		c.mu.RLock()
		req.Token = c.token
		c.mu.RUnlock()
		resp, err = st.request(ctx, req)
	}
	if err != nil {
		return resp, err
	}

	c.record(resp)
	return resp, nil
}

func (c *Client) record(resp protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conversationID = resp.Payload.ConversationID
	c.newConversation = false
	if resp.Payload.Request == nil || resp.Payload.Message == nil {
		return
	}
	c.history = append(c.history, Exchange{
		ConversationID: resp.Payload.ConversationID,
		Request:        *resp.Payload.Request,
		Response:       *resp.Payload.Message,
	})
}

// History returns a copy of the successful exchanges, oldest first.
func (c *Client) History() []Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Exchange, len(c.history))
	for i, ex := range c.history {
		ex.Request.Context = conversation.CloneContext(ex.Request.Context)
		ex.Response.Context = conversation.CloneContext(ex.Response.Context)
		out[i] = ex
	}
	return out
}

// NewConversation makes the next message start a fresh conversation.
func (c *Client) NewConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = ""
	c.newConversation = true
}

// ConversationID returns the conversation messages are sent to.
func (c *Client) ConversationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conversationID
}

// Identity returns the identity of the last authentication.
func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// SessionID returns the server's id for the current session.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Server returns the server name from the last welcome.
func (c *Client) Server() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// ExpiresAt returns when the current token expires.
func (c *Client) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}

// Connected reports whether the client has a live session.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream != nil && c.stream.alive()
}

// Close ends the session and forgets the token. Sends fail with
// ErrNotConnected until Connect is called again. The conversation and
// history are kept.
func (c *Client) Close() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	st := c.stream
	c.stream = nil
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()

	if st != nil {
		st.close()
	}
	return nil
}

// Release closes the client and the connection created by Dial.
func (c *Client) Release() error {
	_ = c.Close()
	if c.owned != nil {
		return c.owned.Close()
	}
	return nil
}

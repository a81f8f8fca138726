// ABOUTME: Protocol server: owns sessions and runs the authenticated message pipeline
// ABOUTME: Stop drains in-flight requests, then cancels whatever is still running

package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/cmap"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/handler"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/metrics"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/ratelimit"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/store"
)

// ProtocolVersion is reported in Info and the session welcome.
const ProtocolVersion = "1.0"

// Defaults applied by New when Config leaves a field zero.
const (
	DefaultMaxAuthAttempts = 3
	DefaultDrainTimeout    = 10 * time.Second
)

// Authenticator verifies an identity's secret.
type Authenticator interface {
	Authenticate(ctx context.Context, identity, secret string) error
}

// TokenManager issues and parses session tokens.
type TokenManager interface {
	Issue(identity string, ttl time.Duration) (auth.Token, error)
	Parse(value string) (auth.Token, error)
	Revoke(value string) error
}

// Config holds the server's tunables.
type Config struct {
	Name            string
	MaxAuthAttempts int
	DrainTimeout    time.Duration
	HandlerTimeout  time.Duration // zero leaves the handler unbounded
	SanitizeInput   bool
}

// Deps are the collaborators a Server needs. Metrics and Audit are optional.
type Deps struct {
	Credentials   Authenticator
	Tokens        TokenManager
	Limiter       ratelimit.Limiter
	Conversations *conversation.Store
	Handler       handler.Handler
	Metrics       *metrics.Metrics
	Audit         store.AuditStore
	Logger        *slog.Logger
	Now           func() time.Time
}

// Info describes a running server.
type Info struct {
	Name            string   `json:"name"`
	ProtocolVersion string   `json:"protocolVersion"`
	Features        []string `json:"features"`
	Sessions        int      `json:"sessions"`
	Conversations   int      `json:"conversations"`
	ShuttingDown    bool     `json:"shuttingDown"`
}

// Server runs the protocol for any number of sessions.
type Server struct {
	cfg     Config
	creds   Authenticator
	tokens  TokenManager
	limiter ratelimit.Limiter
	convs   *conversation.Store
	handler handler.Handler
	metrics *metrics.Metrics
	audit   store.AuditStore
	logger  *slog.Logger
	now     func() time.Time

	sessions *cmap.Map[*Session]
	inflight inflight
	stopping atomic.Bool
	stopOnce sync.Once

	// base is the parent of every session and handler context. Stop cancels
	// it once the drain timeout has passed.
	base       context.Context
	cancelBase context.CancelFunc
}

// New builds a Server. Credentials, Tokens, Limiter, Conversations and
// Handler are required.
func New(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Credentials == nil:
		return nil, errors.New("protocol: credentials are required")
	case deps.Tokens == nil:
		return nil, errors.New("protocol: token manager is required")
	case deps.Limiter == nil:
		return nil, errors.New("protocol: rate limiter is required")
	case deps.Conversations == nil:
		return nil, errors.New("protocol: conversation store is required")
	case deps.Handler == nil:
		return nil, errors.New("protocol: handler is required")
	}

	if cfg.Name == "" {
		cfg.Name = "mcp-gateway"
	}
	if cfg.MaxAuthAttempts <= 0 {
		cfg.MaxAuthAttempts = DefaultMaxAuthAttempts
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		creds:      deps.Credentials,
		tokens:     deps.Tokens,
		limiter:    deps.Limiter,
		convs:      deps.Conversations,
		handler:    deps.Handler,
		metrics:    deps.Metrics,
		audit:      deps.Audit,
		logger:     deps.Logger.With("component", "protocol"),
		now:        deps.Now,
		sessions:   cmap.New[*Session](),
		base:       base,
		cancelBase: cancel,
	}
	s.metrics.RegisterGauges(s.sessions.Len, s.convs.Len)
	return s, nil
}

// Info reports the server's identity and load.
func (s *Server) Info() Info {
	return Info{
		Name:            s.cfg.Name,
		ProtocolVersion: ProtocolVersion,
		Features:        []string{"conversation", "context", "history"},
		Sessions:        s.sessions.Len(),
		Conversations:   s.convs.Len(),
		ShuttingDown:    s.stopping.Load(),
	}
}

// Conversations exposes the conversation store for read-only views.
func (s *Server) Conversations() *conversation.Store {
	return s.convs
}

// Open starts a new unauthenticated session for peer.
func (s *Server) Open(peer string) (*Session, error) {
	if s.stopping.Load() {
		return nil, ErrShuttingDown
	}

	ctx, cancel := context.WithCancel(s.base)
	sess := &Session{
		ID:     ulid.Make().String(),
		Peer:   peer,
		server: s,
		ctx:    ctx,
		cancel: cancel,
		state:  StateUnauthenticated,
	}
	sess.logger = s.logger.With("session_id", sess.ID, "peer", peer)
	s.sessions.Set(sess.ID, sess)
	sess.logger.Debug("session opened")
	return sess, nil
}

// Session returns the open session with the given id.
func (s *Server) Session(id string) (*Session, bool) {
	return s.sessions.Get(id)
}

// IssueToken verifies credentials and issues a token without opening a
// session.
func (s *Server) IssueToken(ctx context.Context, identity, secret string) (auth.Token, error) {
	if s.stopping.Load() {
		return auth.Token{}, ErrShuttingDown
	}
	if err := s.creds.Authenticate(ctx, identity, secret); err != nil {
		s.metrics.AuthFailure(string(CodeOf(err)))
		return auth.Token{}, err
	}
	return s.issue(ctx, identity)
}

// Revoke invalidates a token before its expiry.
func (s *Server) Revoke(ctx context.Context, value string) error {
	tok, err := s.tokens.Parse(value)
	if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrRevokedToken) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.tokens.Revoke(value); err != nil {
		return err
	}
	s.record(ctx, store.AuditRevokeToken, tok.Identity, map[string]any{"jti": tok.ID})
	return nil
}

// Exchange runs one request outside any session. The token alone
// authenticates it and a missing conversationId starts a new conversation.
func (s *Server) Exchange(ctx context.Context, req Request) (Response, error) {
	if !s.inflight.begin() {
		return s.fail(req, ErrShuttingDown)
	}
	defer s.inflight.end()

	tok, err := s.authorize(req.Token)
	if err != nil {
		return s.fail(req, err)
	}
	return s.process(ctx, tok.Identity, req, "")
}

// RetryAfter estimates when identity may send again.
func (s *Server) RetryAfter(identity string) time.Duration {
	return s.limiter.RetryAfter(identity)
}

// Stop refuses new work, waits up to the drain timeout for in-flight
// requests, then cancels whatever is left and closes every session. It
// returns ErrDrainTimeout when requests had to be cancelled.
func (s *Server) Stop(ctx context.Context) error {
	var result error
	s.stopOnce.Do(func() {
		drained := s.inflight.drain()
		s.stopping.Store(true)
		s.logger.Info("draining", "in_flight", s.inflight.count(), "timeout", s.cfg.DrainTimeout)

		timer := time.NewTimer(s.cfg.DrainTimeout)
		defer timer.Stop()

		select {
		case <-drained:
		case <-timer.C:
			result = fmt.Errorf("%w: %d request(s) cancelled", ErrDrainTimeout, s.inflight.count())
		case <-ctx.Done():
			result = fmt.Errorf("%w: %v", ErrDrainTimeout, ctx.Err())
		}

		s.cancelBase()
		if result != nil {
			s.logger.Warn("drain incomplete, cancelled in-flight requests", "error", result)
			select {
			case <-drained:
			case <-ctx.Done():
			}
		}

		var open []*Session
		s.sessions.Range(func(_ string, sess *Session) bool {
			open = append(open, sess)
			return true
		})
		for _, sess := range open {
			sess.Close()
		}
		s.logger.Info("stopped")
	})
	return result
}

// authorize parses a bearer token.
func (s *Server) authorize(value string) (auth.Token, error) {
	if value == "" {
		return auth.Token{}, fmt.Errorf("%w: missing token", auth.ErrInvalidToken)
	}
	tok, err := s.tokens.Parse(value)
	if err != nil {
		s.metrics.AuthFailure(string(CodeOf(err)))
		return auth.Token{}, err
	}
	return tok, nil
}

// process runs the pipeline for an authenticated identity: rate limit,
// resolve or create the conversation, invoke the handler, then append the
// inbound message and reply together.
func (s *Server) process(ctx context.Context, identity string, req Request, active string) (Response, error) {
	if !s.limiter.Allow(identity) {
		s.metrics.RateLimited()
		resp, err := s.fail(req, ratelimit.ErrRateLimited)
		resp.Payload.Error.RetryAfterSeconds = s.limiter.RetryAfter(identity).Seconds()
		return resp, err
	}

	if strings.TrimSpace(req.Message) == "" {
		return s.fail(req, badRequest("message is empty"))
	}
	content := req.Message
	if s.cfg.SanitizeInput {
		content = sanitize(content)
	}

	if req.NewConversation {
		active = ""
	}
	conv, err := s.resolve(identity, req.ConversationID, active)
	if err != nil {
		return s.fail(req, err)
	}

	inbound := conversation.Message{
		Role:      conversation.RoleClient,
		Content:   content,
		Context:   conversation.CloneContext(req.Context),
		Timestamp: s.now().UTC(),
	}

	hctx, cancel := s.handlerContext(ctx)
	defer cancel()

	start := time.Now()
	reply, err := s.handler.Handle(hctx, handler.Request{
		ConversationID: conv.ID,
		Identity:       identity,
		History:        conv.Messages,
		Message:        inbound,
	})
	s.metrics.HandlerDuration(time.Since(start))
	if err == nil && hctx.Err() != nil {
		err = hctx.Err()
	}
	if err != nil {
		var herr *handler.Error
		switch {
		case ctx.Err() != nil || s.base.Err() != nil:
			// The caller went away or Stop gave up draining.
			err = fmt.Errorf("%w: %w", ErrCanceled, err)
		case errors.Is(hctx.Err(), context.DeadlineExceeded):
			err = &handler.Error{Handler: "pipeline", Err: fmt.Errorf("timed out after %s", s.cfg.HandlerTimeout)}
		case !errors.As(err, &herr):
			err = &handler.Error{Handler: "pipeline", Err: err}
		}
		s.logger.Warn("handler failed", "conversation_id", conv.ID, "identity", identity, "error", err)
		return s.fail(req, err)
	}

	stored, err := s.convs.Append(conv.ID, inbound, reply)
	if err != nil {
		return s.fail(req, err)
	}

	s.metrics.Request(string(StatusOK))
	return Response{
		ID:        ulid.Make().String(),
		Timestamp: s.now().UTC(),
		Status:    StatusOK,
		RequestID: req.RequestID,
		Payload: Payload{
			ConversationID: conv.ID,
			Request:        &stored[0],
			Message:        &stored[1],
		},
	}, nil
}

// resolve finds the conversation a request targets. An explicit id must
// exist and belong to identity. Otherwise the session's active
// conversation is reused while it lives, and a new one is created when
// there is none.
func (s *Server) resolve(identity, requested, active string) (conversation.Conversation, error) {
	if requested != "" {
		conv, err := s.convs.Get(requested)
		if err != nil {
			return conversation.Conversation{}, err
		}
		if conv.Owner != identity {
			return conversation.Conversation{}, auth.ErrIdentityMismatch
		}
		return conv, nil
	}

	if active != "" {
		conv, err := s.convs.Get(active)
		if err == nil && conv.Owner == identity {
			return conv, nil
		}
	}
	return s.convs.Create(identity), nil
}

// handlerContext derives the handler's context from the caller's. It is
// also cancelled when Stop gives up on draining.
func (s *Server) handlerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if s.cfg.HandlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandlerTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	stop := context.AfterFunc(s.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Reject answers req with the error response for err without running the
// pipeline. Transports use it for requests they refuse before Send.
func (s *Server) Reject(req Request, err error) Response {
	resp, _ := s.fail(req, err)
	return resp
}

// fail builds the error response for err and records it.
func (s *Server) fail(req Request, err error) (Response, error) {
	code := CodeOf(err)
	s.metrics.Request(string(code))
	return Response{
		ID:        ulid.Make().String(),
		Timestamp: s.now().UTC(),
		Status:    StatusError,
		RequestID: req.RequestID,
		Payload: Payload{
			ConversationID: req.ConversationID,
			Error:          &ErrorBody{Code: code, Message: err.Error()},
		},
	}, err
}

func (s *Server) issue(ctx context.Context, identity string) (auth.Token, error) {
	tok, err := s.tokens.Issue(identity, 0)
	if err != nil {
		return auth.Token{}, fmt.Errorf("issuing token: %w", err)
	}
	s.record(ctx, store.AuditIssueToken, identity, map[string]any{
		"jti":        tok.ID,
		"expires_at": tok.ExpiresAt.Format(time.RFC3339),
	})
	return tok, nil
}

// record appends an audit entry when auditing is enabled.
func (s *Server) record(ctx context.Context, action store.AuditAction, identity string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &store.AuditEntry{
		Actor:      identity,
		Action:     action,
		TargetType: "token",
		TargetID:   identity,
		Detail:     detail,
	}
	if err := s.audit.AppendAuditLog(ctx, entry); err != nil {
		s.logger.Error("failed to append audit log", "action", action, "error", err)
	}
}

var sanitizer = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// sanitize neutralizes markup in inbound content.
func sanitize(s string) string {
	return sanitizer.Replace(s)
}

// inflight counts running requests and signals when the count reaches
// zero after drain has begun.
type inflight struct {
	mu       sync.Mutex
	n        int
	draining bool
	idle     chan struct{}
}

func (f *inflight) begin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draining {
		return false
	}
	f.n++
	return true
}

func (f *inflight) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 && f.idle != nil {
		close(f.idle)
		f.idle = nil
	}
}

func (f *inflight) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// drain stops admitting requests and returns a channel closed once none
// are running.
func (f *inflight) drain() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draining = true
	ch := make(chan struct{})
	if f.n == 0 {
		close(ch)
	} else {
		f.idle = ch
	}
	return ch
}

// ABOUTME: Per-connection session state machine: Unauthenticated, Authenticated, Active, Closed
// ABOUTME: Bounds authentication attempts and tracks the session's active conversation

package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Credentials authenticate a session. Either Token, or Identity with
// Secret, must be set. A token takes precedence.
type Credentials struct {
	Identity string
	Secret   string
	Token    string
}

// Session is one client connection's view of the server.
type Session struct {
	ID   string
	Peer string

	server *Server
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	identity       string
	token          string
	attempts       int
	conversationID string
}

// State returns the current state.
func (ss *Session) State() State {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state
}

// Identity returns the authenticated identity, or "" before authentication.
func (ss *Session) Identity() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.identity
}

// ConversationID returns the active conversation, or "" when none.
func (ss *Session) ConversationID() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.conversationID
}

// Done is closed when the session closes.
func (ss *Session) Done() <-chan struct{} {
	return ss.ctx.Done()
}

// Authenticate verifies creds and issues a fresh token. Each failure
// counts against the server's attempt limit; reaching it closes the
// session and returns auth.ErrTooManyAttempts.
func (ss *Session) Authenticate(ctx context.Context, creds Credentials) (auth.Token, error) {
	if ss.server.stopping.Load() {
		return auth.Token{}, ErrShuttingDown
	}
	if ss.State() == StateClosed {
		return auth.Token{}, ErrSessionClosed
	}

	identity, err := ss.verify(ctx, creds)
	if err != nil {
		return auth.Token{}, ss.authFailed(err)
	}

	tok, err := ss.server.issue(ctx, identity)
	if err != nil {
		return auth.Token{}, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.state == StateClosed {
		return auth.Token{}, ErrSessionClosed
	}
	if identity != ss.identity {
		ss.conversationID = ""
	}
	ss.identity = identity
	ss.token = tok.Value
	ss.attempts = 0
	if ss.conversationID != "" {
		ss.state = StateActive
	} else {
		ss.state = StateAuthenticated
	}
	ss.logger.Info("session authenticated", "identity", identity)
	return tok, nil
}

func (ss *Session) verify(ctx context.Context, creds Credentials) (string, error) {
	if creds.Token != "" {
		tok, err := ss.server.tokens.Parse(creds.Token)
		if err != nil {
			return "", err
		}
		return tok.Identity, nil
	}
	if creds.Identity == "" || creds.Secret == "" {
		return "", auth.ErrInvalidCredential
	}
	if err := ss.server.creds.Authenticate(ctx, creds.Identity, creds.Secret); err != nil {
		return "", err
	}
	return creds.Identity, nil
}

func (ss *Session) authFailed(err error) error {
	ss.server.metrics.AuthFailure(string(CodeOf(err)))
	if !errors.Is(err, auth.ErrUnauthenticated) {
		return err
	}

	ss.mu.Lock()
	ss.attempts++
	attempts := ss.attempts
	ss.mu.Unlock()

	ss.logger.Warn("authentication failed", "attempt", attempts, "error", err)
	if attempts >= ss.server.cfg.MaxAuthAttempts {
		ss.Close()
		return auth.ErrTooManyAttempts
	}
	return err
}

// Send runs req through the pipeline. The request token must be valid and
// belong to the session's identity; an empty token reuses the one issued by
// Authenticate. The returned Response is always populated, error or not.
func (ss *Session) Send(ctx context.Context, req Request) (Response, error) {
	srv := ss.server
	if !srv.inflight.begin() {
		return srv.fail(req, ErrShuttingDown)
	}
	defer srv.inflight.end()

	ss.mu.Lock()
	state, identity, active := ss.state, ss.identity, ss.conversationID
	if req.Token == "" {
		req.Token = ss.token
	}
	ss.mu.Unlock()

	switch state {
	case StateClosed:
		return srv.fail(req, ErrSessionClosed)
	case StateUnauthenticated:
		return srv.fail(req, fmt.Errorf("%w: authenticate first", auth.ErrUnauthenticated))
	}

	tok, err := srv.authorize(req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			ss.expire()
		}
		return srv.fail(req, err)
	}
	if tok.Identity != identity {
		return srv.fail(req, auth.ErrIdentityMismatch)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ss.ctx, cancel)
	defer stop()

	resp, err := srv.process(ctx, identity, req, active)
	if err != nil {
		return resp, err
	}

	ss.mu.Lock()
	if ss.state != StateClosed && ss.identity == identity {
		ss.conversationID = resp.Payload.ConversationID
		ss.state = StateActive
	}
	ss.mu.Unlock()
	return resp, nil
}

// expire returns the session to Unauthenticated after its token lapsed.
// The active conversation is kept for the next authentication.
func (ss *Session) expire() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.state == StateClosed {
		return
	}
	ss.state = StateUnauthenticated
	ss.token = ""
	ss.logger.Info("session token expired")
}

// Close ends the session. Requests still running are cancelled. Close is
// idempotent.
func (ss *Session) Close() {
	ss.mu.Lock()
	if ss.state == StateClosed {
		ss.mu.Unlock()
		return
	}
	ss.state = StateClosed
	ss.token = ""
	ss.mu.Unlock()

	ss.cancel()
	ss.server.sessions.Delete(ss.ID)
	ss.logger.Debug("session closed")
}

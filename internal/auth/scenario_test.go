// ABOUTME: End-to-end scenario tests for auth using real SQLite
// ABOUTME: Validates credential to token to bearer request flows without any mocking

package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/credential"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/dedupe"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/logging"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/store"
)

var scenarioSecret = []byte("scenario-signing-secret-32-bytes!")

// createTestStore creates a real SQLite store in a temp directory.
func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logging.Discard())
	require.NoError(t, err, "failed to create SQLite store")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newCredentials(t *testing.T, s *store.SQLiteStore) *credential.Service {
	t.Helper()
	svc, err := credential.NewService(s,
		credential.WithIterations(1000),
		credential.WithAudit(s),
		credential.WithLogger(logging.Discard()),
	)
	require.NoError(t, err)
	return svc
}

// protectedHandler answers with the authenticated identity.
func protectedHandler(tokens auth.TokenValidator) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(auth.MustFromContext(r.Context()).Identity))
	})
	return auth.HTTPAuthMiddleware(tokens, logging.Discard())(inner)
}

func call(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["code"]
}

func TestScenario_FullAuthFlow(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	creds := newCredentials(t, s)

	require.NoError(t, creds.Register(ctx, "alice", "alice-secret"))
	require.NoError(t, creds.Authenticate(ctx, "alice", "alice-secret"))

	tokens, err := auth.NewTokenService(scenarioSecret)
	require.NoError(t, err)
	tok, err := tokens.Issue("alice", 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 2*time.Second)

	rec := call(protectedHandler(tokens), tok.Value)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestScenario_WrongSecretAudited(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	creds := newCredentials(t, s)

	require.NoError(t, creds.Register(ctx, "alice", "alice-secret"))
	assert.ErrorIs(t, creds.Authenticate(ctx, "alice", "nope"), auth.ErrInvalidCredential)
	assert.ErrorIs(t, creds.Authenticate(ctx, "mallory", "nope"), auth.ErrInvalidCredential)

	action := store.AuditAuthFailure
	entries, err := s.ListAuditLog(ctx, store.AuditFilter{Action: &action})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestScenario_RotatedSecretReplacesOld(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	creds := newCredentials(t, s)

	require.NoError(t, creds.Register(ctx, "alice", "first-secret"))
	require.NoError(t, creds.Rotate(ctx, "alice", "second-secret"))

	assert.ErrorIs(t, creds.Authenticate(ctx, "alice", "first-secret"), auth.ErrInvalidCredential)
	assert.NoError(t, creds.Authenticate(ctx, "alice", "second-secret"))
}

func TestScenario_CredentialsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := store.NewSQLiteStore(path, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, newCredentials(t, s).Register(ctx, "alice", "alice-secret"))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.NoError(t, newCredentials(t, s).Authenticate(ctx, "alice", "alice-secret"))
}

func TestScenario_ExpiredTokenRejected(t *testing.T) {
	now := time.Now()
	tokens, err := auth.NewTokenService(scenarioSecret, auth.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	tok, err := tokens.Issue("alice", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	rec := call(protectedHandler(tokens), tok.Value)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_expired", errorCode(t, rec))
}

func TestScenario_ForeignSignatureRejected(t *testing.T) {
	other, err := auth.NewTokenService([]byte("a-different-signing-secret-value"))
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(scenarioSecret)
	require.NoError(t, err)

	tok, err := other.Issue("alice", 0)
	require.NoError(t, err)

	rec := call(protectedHandler(tokens), tok.Value)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", errorCode(t, rec))
}

func TestScenario_RevokedTokenDenied(t *testing.T) {
	denylist := dedupe.New(time.Hour, 1000)
	t.Cleanup(denylist.Close)

	tokens, err := auth.NewTokenService(scenarioSecret, auth.WithDenylist(denylist))
	require.NoError(t, err)
	tok, err := tokens.Issue("alice", 0)
	require.NoError(t, err)

	h := protectedHandler(tokens)
	require.Equal(t, http.StatusOK, call(h, tok.Value).Code)

	require.NoError(t, tokens.Revoke(tok.Value))
	rec := call(h, tok.Value)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_revoked", errorCode(t, rec))
}

func TestScenario_RemovedIdentityCannotAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	creds := newCredentials(t, s)

	require.NoError(t, creds.Register(ctx, "alice", "alice-secret"))
	require.NoError(t, creds.Remove(ctx, "alice"))
	assert.ErrorIs(t, creds.Authenticate(ctx, "alice", "alice-secret"), auth.ErrInvalidCredential)
}

// ABOUTME: HTTP middleware for bearer token authentication on API endpoints
// ABOUTME: Extracts the token from the Authorization header and adds the identity to context

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from an Authorization header value.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// BearerToken returns the bearer token of r, or "" when absent or malformed.
func BearerToken(r *http.Request) string {
	token, _ := extractBearerToken(r.Header.Get("Authorization"))
	return token
}

// tokenErrorCode names a token failure for clients that branch on it.
func tokenErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "token_expired"
	case errors.Is(err, ErrRevokedToken):
		return "token_revoked"
	default:
		return "invalid_token"
	}
}

func writeAuthError(w http.ResponseWriter, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// HTTPAuthMiddleware validates the bearer token of every request and attaches
// an AuthContext. Failures are answered with 401 and a JSON error body.
func HTTPAuthMiddleware(tokens TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logHTTPAuthFailure(logger, r, "missing_token")
				writeAuthError(w, errMsg, "unauthenticated")
				return
			}

			tok, err := tokens.Parse(raw)
			if err != nil {
				code := tokenErrorCode(err)
				logHTTPAuthFailure(logger, r, code)
				writeAuthError(w, err.Error(), code)
				return
			}

			authCtx := &AuthContext{Identity: tok.Identity, Token: tok, PeerAddr: r.RemoteAddr}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

func logHTTPAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("auth failure", "reason", reason, "peer_addr", r.RemoteAddr, "path", r.URL.Path)
}

// Package auth provides session tokens and request authentication for the
// gateway.
//
// # Tokens
//
// TokenService issues HS256 JWTs carrying the identity ("sub"), a unique id
// ("jti"), issue time and expiry. Parse verifies the signature first and only
// then checks expiry, so a tampered token is always ErrInvalidToken and a
// genuine but stale token is always ErrExpiredToken:
//
//	tokens, err := auth.NewTokenService(secret, auth.WithTTL(time.Hour))
//	tok, err := tokens.Issue("alice", 0)
//	identity, err := tokens.Validate(tok.Value)
//
// Tokens are stateless. Passing WithDenylist enables Revoke, which holds the
// token id in an expiring cache until the token would have expired.
//
// # Errors
//
// All failures wrap ErrUnauthenticated: ErrInvalidCredential, ErrInvalidToken,
// ErrExpiredToken, ErrRevokedToken, ErrIdentityMismatch and ErrTooManyAttempts.
//
// # Transports
//
// HTTPAuthMiddleware guards HTTP handlers with "Authorization: Bearer" tokens.
// StreamInterceptor does the same for gRPC metadata when present. Both attach
// an AuthContext retrievable with FromContext.
package auth

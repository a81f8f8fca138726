// ABOUTME: Session token issuance and validation using HS256 JWTs
// ABOUTME: Checks the signature before expiry and supports an optional revocation denylist

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/dedupe"
)

// DefaultTokenTTL applies when Issue is called without a positive ttl.
const DefaultTokenTTL = time.Hour

// MinSecretLength is the shortest signing secret accepted.
const MinSecretLength = 16

// Token is an issued session token together with its decoded claims.
type Token struct {
	Value     string
	ID        string
	Identity  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenValidator resolves a raw token to its claims.
type TokenValidator interface {
	Parse(value string) (Token, error)
}

// Option configures a TokenService.
type Option func(*TokenService)

// WithTTL sets the default lifetime of issued tokens.
func WithTTL(ttl time.Duration) Option {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) { s.now = now }
}

// WithDenylist enables revocation. Revoked token ids are held in the cache
// until the token would have expired anyway.
func WithDenylist(c *dedupe.Cache) Option {
	return func(s *TokenService) { s.denylist = c }
}

// TokenService issues and validates signed, time-bounded session tokens.
// Validation is stateless unless a denylist is configured.
type TokenService struct {
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	denylist *dedupe.Cache
	parser   *jwt.Parser
}

// NewTokenService creates a token service signing with secret.
func NewTokenService(secret []byte, opts ...Option) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}
	s := &TokenService{
		secret: secret,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
		// Claims are checked in Parse against s.now after the signature.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the default token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// RevocationEnabled reports whether Revoke is supported.
func (s *TokenService) RevocationEnabled() bool {
	return s.denylist != nil
}

// Issue creates a token for identity valid for ttl. A ttl <= 0 uses the
// service default.
func (s *TokenService) Issue(identity string, ttl time.Duration) (Token, error) {
	if identity == "" {
		return Token{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		ID:        ulid.Make().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("signing token: %w", err)
	}

	return Token{
		Value:     value,
		ID:        claims.ID,
		Identity:  identity,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Parse verifies the signature, then expiry, then revocation, and returns the claims.
func (s *TokenService) Parse(value string) (Token, error) {
	var claims jwt.RegisteredClaims
	_, err := s.parser.ParseWithClaims(value, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return Token{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.ExpiresAt == nil {
		return Token{}, fmt.Errorf("%w: exp", ErrMissingClaim)
	}

	tok := Token{
		Value:     value,
		ID:        claims.ID,
		Identity:  claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}

	if s.now().After(tok.ExpiresAt) {
		return Token{}, ErrExpiredToken
	}

	if s.denylist != nil && tok.ID != "" && s.denylist.Check(tok.ID) {
		return Token{}, ErrRevokedToken
	}

	return tok, nil
}

// Validate returns the identity bound to a valid token.
func (s *TokenService) Validate(value string) (string, error) {
	tok, err := s.Parse(value)
	if err != nil {
		return "", err
	}
	return tok.Identity, nil
}

// Revoke denylists a token until its natural expiry. Revoking an already
// expired token is a no-op. A bounded denylist that is full of live
// entries refuses the revocation with ErrDenylistFull.
func (s *TokenService) Revoke(value string) error {
	if s.denylist == nil {
		return ErrRevocationDisabled
	}
	tok, err := s.Parse(value)
	if errors.Is(err, ErrExpiredToken) || errors.Is(err, ErrRevokedToken) {
		return nil
	}
	if err != nil {
		return err
	}
	if tok.ID == "" {
		return fmt.Errorf("%w: jti", ErrMissingClaim)
	}
	// Inclusive expiry means the token is still accepted at ExpiresAt itself.
	if err := s.denylist.Insert(tok.ID, tok.ExpiresAt.Add(time.Second)); err != nil {
		return fmt.Errorf("%w: %w", ErrDenylistFull, err)
	}
	return nil
}

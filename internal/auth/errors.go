// ABOUTME: Authentication error taxonomy shared by the token service, credentials and sessions
// ABOUTME: Every authentication failure wraps ErrUnauthenticated so callers can match the whole family

package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is the root of all authentication failures.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authentication failure subtypes. Expired is not a kind of Invalid: clients
// re-authenticate on Expired and give up on Invalid.
var (
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", ErrUnauthenticated)
	ErrInvalidToken      = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrExpiredToken      = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrRevokedToken      = fmt.Errorf("%w: token revoked", ErrUnauthenticated)
	ErrMissingClaim      = fmt.Errorf("%w: missing required claim", ErrInvalidToken)
	ErrIdentityMismatch  = fmt.Errorf("%w: identity does not own this conversation", ErrUnauthenticated)
	ErrTooManyAttempts   = fmt.Errorf("%w: too many authentication attempts", ErrUnauthenticated)
)

// Token service configuration errors.
var (
	ErrWeakSecret         = errors.New("signing secret too short")
	ErrRevocationDisabled = errors.New("token revocation is disabled")
	ErrDenylistFull       = errors.New("revocation denylist is full")
)

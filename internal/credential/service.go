// ABOUTME: Credential registry that hashes, stores, rotates and authenticates client secrets
// ABOUTME: Unknown identities and wrong secrets fail identically with auth.ErrInvalidCredential

package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/store"
)

var (
	ErrEmptyIdentity     = errors.New("identity must not be empty")
	ErrEmptySecret       = errors.New("secret must not be empty")
	ErrNotRegistered     = errors.New("identity not registered")
	ErrAlreadyRegistered = errors.New("identity already registered")
)

// Info describes a registered identity without its key material.
type Info struct {
	Identity   string     `json:"identity"`
	Iterations int        `json:"iterations"`
	CreatedAt  time.Time  `json:"created_at"`
	RotatedAt  *time.Time `json:"rotated_at,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithIterations sets the PBKDF2 work factor for newly derived keys.
func WithIterations(n int) Option {
	return func(s *Service) { s.hasher = NewHasher(n) }
}

// WithAudit records credential changes and failed authentications.
func WithAudit(a store.AuditStore) Option {
	return func(s *Service) { s.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service manages client credentials.
type Service struct {
	creds  store.CredentialStore
	audit  store.AuditStore
	hasher Hasher
	logger *slog.Logger

	// decoy material verified against when the identity is unknown
	decoySalt string
	decoyKey  string
}

// NewService creates a Service backed by creds.
func NewService(creds store.CredentialStore, opts ...Option) (*Service, error) {
	s := &Service{
		creds:  creds,
		hasher: NewHasher(DefaultIterations),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "credential")

	decoySecret, err := NewSalt()
	if err != nil {
		return nil, err
	}
	if s.decoyKey, s.decoySalt, err = s.hasher.Hash(decoySecret, ""); err != nil {
		return nil, err
	}
	return s, nil
}

// Iterations returns the work factor used for new derivations.
func (s *Service) Iterations() int {
	return s.hasher.Iterations
}

// Register stores a new identity with the PBKDF2 derivation of secret.
func (s *Service) Register(ctx context.Context, identity, secret string) error {
	if err := checkInput(identity, secret); err != nil {
		return err
	}

	key, salt, err := s.hasher.Hash(secret, "")
	if err != nil {
		return err
	}

	err = s.creds.CreateCredential(ctx, &store.Credential{
		Identity:   identity,
		Salt:       salt,
		DerivedKey: key,
		Iterations: s.hasher.Iterations,
	})
	if errors.Is(err, store.ErrExists) {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, identity)
	}
	if err != nil {
		return fmt.Errorf("registering %s: %w", identity, err)
	}

	s.logger.Info("registered credential", "identity", identity)
	s.record(ctx, store.AuditRegisterCredential, identity, nil)
	return nil
}

// Rotate replaces the secret of an existing identity with a fresh salt.
func (s *Service) Rotate(ctx context.Context, identity, secret string) error {
	if err := checkInput(identity, secret); err != nil {
		return err
	}

	key, salt, err := s.hasher.Hash(secret, "")
	if err != nil {
		return err
	}

	err = s.creds.UpdateCredential(ctx, &store.Credential{
		Identity:   identity,
		Salt:       salt,
		DerivedKey: key,
		Iterations: s.hasher.Iterations,
	})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotRegistered, identity)
	}
	if err != nil {
		return fmt.Errorf("rotating %s: %w", identity, err)
	}

	s.logger.Info("rotated credential", "identity", identity)
	s.record(ctx, store.AuditRotateCredential, identity, nil)
	return nil
}

// Remove deletes an identity.
func (s *Service) Remove(ctx context.Context, identity string) error {
	err := s.creds.DeleteCredential(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotRegistered, identity)
	}
	if err != nil {
		return fmt.Errorf("removing %s: %w", identity, err)
	}

	s.logger.Info("removed credential", "identity", identity)
	s.record(ctx, store.AuditRemoveCredential, identity, nil)
	return nil
}

// List returns every registered identity.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	creds, err := s.creds.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	out := make([]Info, 0, len(creds))
	for _, c := range creds {
		out = append(out, Info{
			Identity:   c.Identity,
			Iterations: c.Iterations,
			CreatedAt:  c.CreatedAt,
			RotatedAt:  c.RotatedAt,
		})
	}
	return out, nil
}

// Authenticate checks secret against the stored derivation for identity.
// It returns nil on success and auth.ErrInvalidCredential when the identity
// is unknown or the secret is wrong. Other errors come from the store.
func (s *Service) Authenticate(ctx context.Context, identity, secret string) error {
	cred, err := s.creds.GetCredential(ctx, identity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.hasher.Verify(secret, s.decoyKey, s.decoySalt)
		s.fail(ctx, identity, "unknown_identity")
		return auth.ErrInvalidCredential
	case err != nil:
		return fmt.Errorf("loading credential: %w", err)
	}

	h := Hasher{Iterations: cred.Iterations}
	if !h.Verify(secret, cred.DerivedKey, cred.Salt) {
		s.fail(ctx, identity, "wrong_secret")
		return auth.ErrInvalidCredential
	}
	return nil
}

func (s *Service) fail(ctx context.Context, identity, reason string) {
	s.logger.Warn("credential rejected", "identity", identity, "reason", reason)
	s.record(ctx, store.AuditAuthFailure, identity, map[string]any{"reason": reason})
}

// record appends an audit entry when auditing is enabled. Failures are
// logged and never surface to the caller.
func (s *Service) record(ctx context.Context, action store.AuditAction, identity string, detail map[string]any) {
	if s.audit == nil {
		return
	}

	if a := auth.FromContext(ctx); a != nil && a.PeerAddr != "" {
		withPeer := make(map[string]any, len(detail)+1)
		for k, v := range detail {
			withPeer[k] = v
		}
		withPeer["peer_addr"] = a.PeerAddr
		detail = withPeer
	}

	entry := &store.AuditEntry{
		Actor:      auth.Actor(ctx, "operator"),
		Action:     action,
		TargetType: "credential",
		TargetID:   identity,
		Detail:     detail,
	}
	if err := s.audit.AppendAuditLog(ctx, entry); err != nil {
		s.logger.Error("failed to append audit log", "action", action, "error", err)
	}
}

func checkInput(identity, secret string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if secret == "" {
		return ErrEmptySecret
	}
	return nil
}

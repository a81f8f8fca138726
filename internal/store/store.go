// ABOUTME: Store interfaces and data types for mcp-gateway persistence
// ABOUTME: Defines Credential and audit entities plus the CredentialStore and AuditStore interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrExists is returned when creating an entity whose key is already taken
var ErrExists = errors.New("already exists")

// Credential is the persisted form of a registered identity. The secret
// itself is never stored, only its PBKDF2 derivation and the salt.
type Credential struct {
	Identity   string
	Salt       string // hex text, used verbatim as the PBKDF2 salt
	DerivedKey string // hex encoded
	Iterations int
	CreatedAt  time.Time
	RotatedAt  *time.Time
}

// CredentialStore persists credentials keyed by identity.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *Credential) error
	GetCredential(ctx context.Context, identity string) (*Credential, error)
	UpdateCredential(ctx context.Context, c *Credential) error
	DeleteCredential(ctx context.Context, identity string) error
	ListCredentials(ctx context.Context) ([]Credential, error)
}

// AuditStore records security relevant actions.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store combines every persistence interface.
type Store interface {
	CredentialStore
	AuditStore
	Close() error
}

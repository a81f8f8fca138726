// ABOUTME: In-memory Store implementation used when no database path is configured
// ABOUTME: Also serves as the store for unit tests that should not touch SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]*Credential // keyed by identity
	audit       []AuditEntry
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]*Credential),
	}
}

// CreateCredential stores a new credential.
func (m *MemoryStore) CreateCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[c.Identity]; ok {
		return ErrExists
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	// Make a copy to avoid external modification
	stored := copyCredential(c)
	m.credentials[c.Identity] = &stored
	return nil
}

// GetCredential retrieves a credential by identity.
func (m *MemoryStore) GetCredential(ctx context.Context, identity string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[identity]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyCredential(c)
	return &out, nil
}

// UpdateCredential replaces an existing credential's key material.
func (m *MemoryStore) UpdateCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.credentials[c.Identity]
	if !ok {
		return ErrNotFound
	}
	if c.RotatedAt == nil {
		now := time.Now().UTC()
		c.RotatedAt = &now
	}

	updated := copyCredential(c)
	updated.CreatedAt = existing.CreatedAt
	m.credentials[c.Identity] = &updated
	return nil
}

// DeleteCredential removes a credential.
func (m *MemoryStore) DeleteCredential(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[identity]; !ok {
		return ErrNotFound
	}
	delete(m.credentials, identity)
	return nil
}

// ListCredentials returns every credential ordered by identity.
func (m *MemoryStore) ListCredentials(ctx context.Context) ([]Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		out = append(out, copyCredential(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// AppendAuditLog appends an audit entry.
func (m *MemoryStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if !e.Action.IsValid() {
		return fmt.Errorf("invalid audit action %q", e.Action)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching audit entries newest first.
func (m *MemoryStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	for i := range m.audit {
		if f.matches(&m.audit[i]) {
			entries = append(entries, m.audit[i])
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if limit := normalizeAuditLimit(f.Limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func copyCredential(c *Credential) Credential {
	out := *c
	if c.RotatedAt != nil {
		r := *c.RotatedAt
		out.RotatedAt = &r
	}
	return out
}

// Ensure both implementations satisfy Store
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// ABOUTME: Audit log entity and filtering helpers shared by the store implementations
// ABOUTME: Records who did what to which credential or token for compliance and debugging

package store

import (
	"time"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditRegisterCredential AuditAction = "register_credential"
	AuditRotateCredential   AuditAction = "rotate_credential"
	AuditRemoveCredential   AuditAction = "remove_credential"
	AuditIssueToken         AuditAction = "issue_token"
	AuditRevokeToken        AuditAction = "revoke_token"
	AuditAuthFailure        AuditAction = "auth_failure"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditRegisterCredential,
	AuditRotateCredential,
	AuditRemoveCredential,
	AuditIssueToken,
	AuditRevokeToken,
	AuditAuthFailure,
}

// IsValid reports whether a is one of ValidAuditActions.
func (a AuditAction) IsValid() bool {
	for _, v := range ValidAuditActions {
		if a == v {
			return true
		}
	}
	return false
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         // UUID v4
	Actor      string         // identity or operator that performed the action
	Action     AuditAction    // what action was performed
	TargetType string         // "credential", "token"
	TargetID   string         // identity or token id
	Timestamp  time.Time      // when it happened
	Detail     map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since    *time.Time   // entries at or after this time
	Until    *time.Time   // entries at or before this time
	Actor    *string      // filter by actor
	Action   *AuditAction // filter by action type
	TargetID *string      // filter by target ID
	Limit    int          // max results (default 100, max 1000)
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func (f AuditFilter) matches(e *AuditEntry) bool {
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if f.Actor != nil && e.Actor != *f.Actor {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.TargetID != nil && e.TargetID != *f.TargetID {
		return false
	}
	return true
}
